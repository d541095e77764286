// Package config handles configuration loading and validation for filetier.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/filetier/filetier/internal/routing"
	"github.com/filetier/filetier/pkg/bytesize"
)

// Default ports: dispatcher on 9001, tiers on 9002-9004.
const (
	DefaultDispatcherListen = ":9001"
	DefaultPDFAddr          = "127.0.0.1:9002"
	DefaultTextAddr         = "127.0.0.1:9003"
	DefaultArchiveAddr      = "127.0.0.1:9004"
)

// TierAddr names where one backend tier listens, from the dispatcher's
// point of view.
type TierAddr struct {
	Addr string `yaml:"addr"`
}

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	Listen        string        `yaml:"listen"`
	Root          string        `yaml:"root"`            // storage root for source files
	Alias         string        `yaml:"alias"`           // virtual namespace alias
	MetricsListen string        `yaml:"metrics_listen"`  // empty disables the endpoint
	GzipArchives  bool          `yaml:"gzip_archives"`
	MaxUploadSize bytesize.Size `yaml:"max_upload_size"` // 0 means unlimited
	PDF           TierAddr      `yaml:"pdf"`
	Text          TierAddr      `yaml:"text"`
	Archive       TierAddr      `yaml:"archive"`
}

// BackendConfig holds configuration for one tier server.
type BackendConfig struct {
	Tier          string        `yaml:"tier"` // "pdf", "text", or "archive"
	Listen        string        `yaml:"listen"`
	Root          string        `yaml:"root"`
	MetricsListen string        `yaml:"metrics_listen"`
	GzipArchives  bool          `yaml:"gzip_archives"`
	MaxUploadSize bytesize.Size `yaml:"max_upload_size"` // 0 means unlimited
}

// LoadDispatcherConfig loads dispatcher configuration from a YAML file.
// An empty path yields the defaults.
func LoadDispatcherConfig(path string) (*DispatcherConfig, error) {
	cfg := &DispatcherConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *DispatcherConfig) applyDefaults() {
	if cfg.Listen == "" {
		cfg.Listen = DefaultDispatcherListen
	}
	if cfg.Root == "" {
		cfg.Root = "~/filetier/source"
	}
	if cfg.Alias == "" {
		cfg.Alias = "root"
	}
	if cfg.PDF.Addr == "" {
		cfg.PDF.Addr = DefaultPDFAddr
	}
	if cfg.Text.Addr == "" {
		cfg.Text.Addr = DefaultTextAddr
	}
	if cfg.Archive.Addr == "" {
		cfg.Archive.Addr = DefaultArchiveAddr
	}
	cfg.Root = expandHome(cfg.Root)
}

// Table builds the routing table the dispatcher proxies through.
func (cfg *DispatcherConfig) Table() (*routing.Table, error) {
	return routing.NewTable(
		routing.Tier{Class: routing.ClassPDF, Addr: cfg.PDF.Addr},
		routing.Tier{Class: routing.ClassText, Addr: cfg.Text.Addr},
		routing.Tier{Class: routing.ClassArchive, Addr: cfg.Archive.Addr},
	)
}

// LoadBackendConfig loads tier server configuration from a YAML file. The
// tier argument is the class the server should own; a non-empty tier in
// the file must agree.
func LoadBackendConfig(path, tier string) (*BackendConfig, error) {
	cfg := &BackendConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if tier != "" {
		if cfg.Tier != "" && cfg.Tier != tier {
			return nil, fmt.Errorf("config is for tier %q, not %q", cfg.Tier, tier)
		}
		cfg.Tier = tier
	}
	if cfg.Tier == "" {
		return nil, fmt.Errorf("tier not specified")
	}
	class, err := routing.ParseClass(cfg.Tier)
	if err != nil || class == routing.ClassSource {
		return nil, fmt.Errorf("invalid tier %q (want pdf, text, or archive)", cfg.Tier)
	}
	if cfg.Listen == "" {
		switch class {
		case routing.ClassPDF:
			cfg.Listen = DefaultPDFAddr
		case routing.ClassText:
			cfg.Listen = DefaultTextAddr
		case routing.ClassArchive:
			cfg.Listen = DefaultArchiveAddr
		}
	}
	if cfg.Root == "" {
		cfg.Root = "~/filetier/" + class.String()
	}
	cfg.Root = expandHome(cfg.Root)
	return cfg, nil
}

// Class returns the extension class the configured tier owns.
func (cfg *BackendConfig) Class() (routing.Class, error) {
	return routing.ParseClass(cfg.Tier)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
