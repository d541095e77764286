package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/filetier/filetier/internal/svc"
)

var (
	serviceRole       string
	serviceConfigPath string
	serviceName       string
	serviceUser       string
	forceInstall      bool
	logsFollow        bool
	logsLines         int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage filetier system services",
		Long: `Install, control, and manage filetier as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Each role installs as its own service, so one host can run the
dispatcher and any number of tiers side by side.

Examples:
  # Install the dispatcher
  sudo filetier service install --role dispatcher --config /etc/filetier/dispatcher.yaml

  # Install a tier server
  sudo filetier service install --role pdf

  # Control a service
  sudo filetier service start --role pdf
  sudo filetier service stop --role pdf
  sudo filetier service status --role dispatcher

  # View logs
  sudo filetier service logs --role dispatcher --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install a filetier role as a system service",
		Long: `Install a filetier role as a system service that starts at boot.

Requires administrator/root privileges.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceRole, "role", "dispatcher", "Role to install: dispatcher, pdf, text, or archive")
	installCmd.Flags().StringVarP(&serviceConfigPath, "config", "c", "", "Path to configuration file")
	installCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name (default: filetier-<role>)")
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove a filetier system service",
		RunE:  runServiceUninstall,
	}
	addServiceSelectors(uninstallCmd)
	serviceCmd.AddCommand(uninstallCmd)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a filetier service",
		RunE:  runServiceStart,
	}
	addServiceSelectors(startCmd)
	serviceCmd.AddCommand(startCmd)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a filetier service",
		RunE:  runServiceStop,
	}
	addServiceSelectors(stopCmd)
	serviceCmd.AddCommand(stopCmd)

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a filetier service",
		RunE:  runServiceRestart,
	}
	addServiceSelectors(restartCmd)
	serviceCmd.AddCommand(restartCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show a filetier service's status",
		RunE:  runServiceStatus,
	}
	addServiceSelectors(statusCmd)
	serviceCmd.AddCommand(statusCmd)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View filetier service logs",
		Long: `View logs from a filetier service.

Log locations by platform:
  - Linux:   journalctl -u filetier-<role>
  - macOS:   /var/log/filetier-<role>.out.log`,
		RunE: runServiceLogs,
	}
	addServiceSelectors(logsCmd)
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of log lines to show")
	serviceCmd.AddCommand(logsCmd)

	return serviceCmd
}

func addServiceSelectors(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serviceRole, "role", "dispatcher", "Role: dispatcher, pdf, text, or archive")
	cmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
}

func getServiceConfig() *svc.ServiceConfig {
	role := serviceRole
	if role == "" {
		role = "dispatcher"
	}

	name := serviceName
	if name == "" {
		name = svc.DefaultServiceName(role)
	}

	configPath := serviceConfigPath
	if configPath == "" {
		configPath = svc.DefaultConfigPath(role)
	}

	return &svc.ServiceConfig{
		Name:        name,
		DisplayName: svc.DefaultDisplayName(role),
		Description: svc.DefaultDescription(role),
		Role:        role,
		ConfigPath:  configPath,
		UserName:    serviceUser,
	}
}

func validServiceRole(role string) bool {
	switch role {
	case "dispatcher", "pdf", "text", "archive":
		return true
	}
	return false
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if !validServiceRole(serviceRole) {
		return fmt.Errorf("invalid role %q (want dispatcher, pdf, text, or archive)", serviceRole)
	}
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	// The service manager starts the process with no shell environment, so
	// a missing config file fails at boot. Catch it now.
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		log.Warn().Str("config", cfg.ConfigPath).Msg("config file not found; service will use built-in defaults")
	}

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	fmt.Printf("Service %q installed\n", cfg.Name)
	fmt.Printf("  Role:   %s\n", cfg.Role)
	fmt.Printf("  Config: %s\n", cfg.ConfigPath)
	fmt.Printf("\nStart it with: sudo filetier service start --role %s\n", cfg.Role)
	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	if err := svc.Uninstall(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q uninstalled\n", cfg.Name)
	return nil
}

func runServiceStart(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	if err := svc.Start(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q started\n", cfg.Name)
	return nil
}

func runServiceStop(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	if err := svc.Stop(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q stopped\n", cfg.Name)
	return nil
}

func runServiceRestart(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	if err := svc.Restart(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q restarted\n", cfg.Name)
	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg := getServiceConfig()
	status, err := svc.Status(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Service %q: %s\n", cfg.Name, svc.StatusString(status))
	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()
	return svc.ViewLogs(svc.LogOptions{
		ServiceName: cfg.Name,
		Follow:      logsFollow,
		Lines:       logsLines,
	})
}
