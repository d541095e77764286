package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filetier/filetier/internal/routing"
	"github.com/filetier/filetier/pkg/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDispatcherConfig_Defaults(t *testing.T) {
	cfg, err := LoadDispatcherConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultDispatcherListen, cfg.Listen)
	assert.Equal(t, "root", cfg.Alias)
	assert.Equal(t, DefaultPDFAddr, cfg.PDF.Addr)
	assert.Equal(t, DefaultTextAddr, cfg.Text.Addr)
	assert.Equal(t, DefaultArchiveAddr, cfg.Archive.Addr)
	assert.NotEmpty(t, cfg.Root)

	table, err := cfg.Table()
	require.NoError(t, err)
	tier, ok := table.Lookup(routing.ClassText)
	require.True(t, ok)
	assert.Equal(t, DefaultTextAddr, tier.Addr)
}

func TestLoadDispatcherConfig_File(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:7001"
root: /srv/filetier/source
alias: vault
gzip_archives: true
max_upload_size: 100MB
pdf:
  addr: "10.0.0.2:7002"
text:
  addr: "10.0.0.3:7003"
`)
	cfg, err := LoadDispatcherConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7001", cfg.Listen)
	assert.Equal(t, "vault", cfg.Alias)
	assert.Equal(t, "/srv/filetier/source", cfg.Root)
	assert.True(t, cfg.GzipArchives)
	assert.Equal(t, 100*bytesize.MB, cfg.MaxUploadSize.Bytes())
	assert.Equal(t, "10.0.0.2:7002", cfg.PDF.Addr)
	// Unset tiers fall back to defaults.
	assert.Equal(t, DefaultArchiveAddr, cfg.Archive.Addr)
}

func TestLoadDispatcherConfig_HomeExpansion(t *testing.T) {
	path := writeConfig(t, "root: ~/tier-data\n")
	cfg, err := LoadDispatcherConfig(path)
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "tier-data"), cfg.Root)
}

func TestLoadBackendConfig(t *testing.T) {
	cfg, err := LoadBackendConfig("", "pdf")
	require.NoError(t, err)
	assert.Equal(t, DefaultPDFAddr, cfg.Listen)

	class, err := cfg.Class()
	require.NoError(t, err)
	assert.Equal(t, routing.ClassPDF, class)
}

func TestLoadBackendConfig_Validation(t *testing.T) {
	_, err := LoadBackendConfig("", "")
	assert.Error(t, err)

	_, err = LoadBackendConfig("", "source")
	assert.Error(t, err)

	_, err = LoadBackendConfig("", "bogus")
	assert.Error(t, err)

	path := writeConfig(t, "tier: text\n")
	_, err = LoadBackendConfig(path, "pdf")
	assert.Error(t, err)
}

func TestLoadBackendConfig_FileTier(t *testing.T) {
	path := writeConfig(t, `
tier: archive
listen: "127.0.0.1:7004"
root: /srv/filetier/archive
`)
	cfg, err := LoadBackendConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "archive", cfg.Tier)
	assert.Equal(t, "127.0.0.1:7004", cfg.Listen)
	assert.Equal(t, "/srv/filetier/archive", cfg.Root)
}
