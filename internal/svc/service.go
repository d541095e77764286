// Package svc provides cross-platform system service support for filetier.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// RunFunc runs one filetier role until the context is cancelled.
type RunFunc func(ctx context.Context, configPath string) error

// Program implements service.Interface for the kardianos/service library.
// Role is either "dispatcher" or a tier name ("pdf", "text", "archive").
type Program struct {
	Role       string
	ConfigPath string
	Run        RunFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts.
// It must not block, so the actual work runs in a goroutine.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		if p.Run == nil {
			p.done <- fmt.Errorf("run function not configured")
			return
		}
		p.done <- p.Run(p.ctx, p.ConfigPath)
	}()

	return nil
}

// Stop signals the running goroutine and waits for it to finish.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ServiceConfig holds configuration for service installation.
type ServiceConfig struct {
	Name        string // Service name (e.g. "filetier-dispatcher")
	DisplayName string // Display name shown in service manager
	Description string // Service description
	Role        string // "dispatcher" or a tier name
	ConfigPath  string // Path to configuration file
	UserName    string // User to run service as (Linux/macOS only)
}

// DefaultServiceName returns the default service name for a role.
func DefaultServiceName(role string) string {
	if role == "dispatcher" {
		return "filetier-dispatcher"
	}
	return "filetier-" + role
}

// DefaultDisplayName returns a human-readable display name.
func DefaultDisplayName(role string) string {
	if role == "dispatcher" {
		return "Filetier Dispatcher"
	}
	return "Filetier " + role + " tier"
}

// DefaultDescription returns the service description.
func DefaultDescription(role string) string {
	if role == "dispatcher" {
		return "Filetier distributed file system dispatcher"
	}
	return "Filetier storage tier server for " + role + " files"
}

// DefaultConfigPath returns the default config file path for a role.
func DefaultConfigPath(role string) string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = filepath.Join(os.Getenv("ProgramData"), "Filetier")
	default: // linux, darwin
		configDir = "/etc/filetier"
	}

	if role == "dispatcher" {
		return filepath.Join(configDir, "dispatcher.yaml")
	}
	return filepath.Join(configDir, role+".yaml")
}

// NewServiceConfig creates service.Config from our ServiceConfig.
func NewServiceConfig(cfg *ServiceConfig) *service.Config {
	args := []string{"--service-run"}
	if cfg.Role == "dispatcher" {
		args = append(args, "dispatcher")
	} else {
		args = append(args, "backend", "--tier", cfg.Role)
	}
	args = append(args, "--config", cfg.ConfigPath)

	svcCfg := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   args,
	}

	switch runtime.GOOS {
	case "linux":
		svcCfg.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		svcCfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		}
		if cfg.UserName != "" {
			svcCfg.UserName = cfg.UserName
		}
	case "darwin":
		svcCfg.Option = service.KeyValue{
			"KeepAlive":     true,
			"RunAtLoad":     true,
			"SessionCreate": true,
		}
		if cfg.UserName != "" {
			svcCfg.UserName = cfg.UserName
		}
	case "windows":
		svcCfg.Option = service.KeyValue{
			"OnFailure":      "restart",
			"OnFailureDelay": "5s",
		}
	}

	return svcCfg
}

// CreateService creates a new service instance.
func CreateService(prg *Program, cfg *ServiceConfig) (service.Service, error) {
	return service.New(prg, NewServiceConfig(cfg))
}

// Install installs the service.
func Install(cfg *ServiceConfig, force bool) error {
	prg := &Program{Role: cfg.Role, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	status, err := svc.Status()
	if err == nil {
		switch status {
		case service.StatusRunning:
			if !force {
				return fmt.Errorf("service %q is running; stop it first or use --force", cfg.Name)
			}
			if err := svc.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
			if err := svc.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		case service.StatusStopped:
			if !force {
				return fmt.Errorf("service %q already installed; use --force to reinstall", cfg.Name)
			}
			if err := svc.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		}
	}

	if err := svc.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}

	return nil
}

// Uninstall removes the service, stopping it first if running.
func Uninstall(cfg *ServiceConfig) error {
	prg := &Program{Role: cfg.Role, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	status, _ := svc.Status()
	if status == service.StatusRunning {
		if err := svc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}

	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}

	return nil
}

// Start starts the installed service.
func Start(cfg *ServiceConfig) error {
	prg := &Program{Role: cfg.Role, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	return nil
}

// Stop stops the installed service.
func Stop(cfg *ServiceConfig) error {
	prg := &Program{Role: cfg.Role, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}

	return nil
}

// Restart restarts the installed service.
func Restart(cfg *ServiceConfig) error {
	prg := &Program{Role: cfg.Role, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if err := svc.Restart(); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}

	return nil
}

// Status returns the service status.
func Status(cfg *ServiceConfig) (service.Status, error) {
	prg := &Program{Role: cfg.Role, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return service.StatusUnknown, fmt.Errorf("create service: %w", err)
	}

	return svc.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run runs the program under the service manager.
func Run(prg *Program, cfg *ServiceConfig) error {
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	return svc.Run()
}

// CheckPrivileges checks whether the current user can manage services.
func CheckPrivileges() error {
	switch runtime.GOOS {
	case "windows":
		// Install will fail with a clearer error if not elevated.
		return nil
	default:
		if os.Geteuid() != 0 {
			return fmt.Errorf("root privileges required (use sudo)")
		}
		return nil
	}
}

// IsServiceMode reports whether the process was launched by a service
// manager (--service-run flag present).
func IsServiceMode(args []string) bool {
	for _, arg := range args {
		if arg == "--service-run" {
			return true
		}
	}
	return false
}
