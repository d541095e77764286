// filetier is the distributed file-routing service and its client tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/filetier/filetier/internal/backend"
	"github.com/filetier/filetier/internal/config"
	"github.com/filetier/filetier/internal/dispatch"
	"github.com/filetier/filetier/internal/svc"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
	tierName string

	// Hidden flag set by the service manager invocation.
	serviceRun bool
)

func main() {
	// Invoked by the service manager rather than a user shell.
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	rootCmd := &cobra.Command{
		Use:   "filetier",
		Short: "Filetier - distributed file storage by extension class",
		Long: `Filetier stores files across a set of tier servers, one per file
extension class. Clients talk only to the dispatcher, which keeps .c
files itself and routes .pdf, .txt, and .zip files to their tiers.

QUICK START:

  # Start the tier servers (one per class):
  filetier backend --tier pdf
  filetier backend --tier text
  filetier backend --tier archive

  # Start the dispatcher:
  filetier dispatcher

  # Connect interactively:
  filetier client localhost:9001

  # Install as a system service (optional):
  sudo filetier service install --role dispatcher

For more help on any command, use: filetier <command> --help`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	// Hidden service mode flag (set when running under a service manager)
	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	dispatcherCmd := &cobra.Command{
		Use:   "dispatcher",
		Short: "Run the client-facing dispatcher",
		Long: `Run the dispatcher: the single server clients connect to. It stores
.c files under its own root and proxies other extension classes to
their tier servers.`,
		RunE: runDispatcher,
	}
	rootCmd.AddCommand(dispatcherCmd)

	backendCmd := &cobra.Command{
		Use:   "backend",
		Short: "Run one tier storage server",
		Long: `Run a tier server owning a single extension class.

Examples:
  filetier backend --tier pdf
  filetier backend --tier text --config /etc/filetier/text.yaml`,
		RunE: runBackend,
	}
	backendCmd.Flags().StringVar(&tierName, "tier", "", "extension class to serve: pdf, text, or archive")
	rootCmd.AddCommand(backendCmd)

	rootCmd.AddCommand(newClientCmd())
	rootCmd.AddCommand(newServiceCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("filetier %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	return ctx, cancel
}

func runDispatcher(cmd *cobra.Command, args []string) error {
	setupLogging()

	ctx, cancel := signalContext()
	defer cancel()

	return runDispatcherCtx(ctx, cfgFile)
}

func runDispatcherCtx(ctx context.Context, configPath string) error {
	cfg, err := config.LoadDispatcherConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	table, err := cfg.Table()
	if err != nil {
		return fmt.Errorf("build routing table: %w", err)
	}

	srv := dispatch.New(dispatch.Config{
		Listen:        cfg.Listen,
		Root:          cfg.Root,
		Alias:         cfg.Alias,
		GzipArchives:  cfg.GzipArchives,
		MaxUploadSize: cfg.MaxUploadSize.Bytes(),
	}, table)
	if err := srv.Start(); err != nil {
		return err
	}
	if cfg.MetricsListen != "" {
		srv.Metrics().Serve(cfg.MetricsListen)
	}

	<-ctx.Done()
	srv.Stop()
	return nil
}

func runBackend(cmd *cobra.Command, args []string) error {
	setupLogging()

	ctx, cancel := signalContext()
	defer cancel()

	return runBackendCtx(ctx, cfgFile, tierName)
}

func runBackendCtx(ctx context.Context, configPath, tier string) error {
	cfg, err := config.LoadBackendConfig(configPath, tier)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	class, err := cfg.Class()
	if err != nil {
		return err
	}

	srv := backend.New(backend.Config{
		Class:         class,
		Listen:        cfg.Listen,
		Root:          cfg.Root,
		GzipArchives:  cfg.GzipArchives,
		MaxUploadSize: cfg.MaxUploadSize.Bytes(),
	})
	if err := srv.Start(); err != nil {
		return err
	}
	if cfg.MetricsListen != "" {
		srv.Metrics().Serve(cfg.MetricsListen)
	}

	<-ctx.Done()
	srv.Stop()
	return nil
}

// runAsService runs under the service manager (--service-run flag). The
// role and config path are parsed from the raw arguments because cobra
// never sees this invocation.
func runAsService() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var role, configPath string
	for i, arg := range os.Args {
		switch arg {
		case "dispatcher":
			role = "dispatcher"
		case "backend":
			// Tier name follows as --tier <name>
		case "--tier":
			if i+1 < len(os.Args) {
				role = os.Args[i+1]
			}
		case "--config", "-c":
			if i+1 < len(os.Args) {
				configPath = os.Args[i+1]
			}
		}
	}

	if role == "" {
		log.Fatal().Msg("service role not specified")
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath(role)
	}

	log.Info().
		Str("role", role).
		Str("config", configPath).
		Msg("starting as service")

	cfg := &svc.ServiceConfig{
		Name:        svc.DefaultServiceName(role),
		DisplayName: svc.DefaultDisplayName(role),
		Description: svc.DefaultDescription(role),
		Role:        role,
		ConfigPath:  configPath,
	}

	run := runDispatcherCtx
	if role != "dispatcher" {
		tier := role
		run = func(ctx context.Context, configPath string) error {
			return runBackendCtx(ctx, configPath, tier)
		}
	}

	prg := &svc.Program{
		Role:       role,
		ConfigPath: configPath,
		Run:        run,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}
