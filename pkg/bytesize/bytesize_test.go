package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1KB", 1024},
		{"1.5 MB", 1536 * 1024},
		{"2Gi", 2 * GB},
		{"1tb", TB},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "abc", "10XB", "-5MB"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 B", Format(0))
	assert.Equal(t, "512 B", Format(512))
	assert.Equal(t, "1.00 KB", Format(1024))
	assert.Equal(t, "2.50 MB", Format(5*MB/2))
}

func TestSizeUnmarshalYAML(t *testing.T) {
	var cfg struct {
		Limit Size `yaml:"limit"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("limit: 100MB\n"), &cfg))
	assert.Equal(t, 100*MB, cfg.Limit.Bytes())

	require.NoError(t, yaml.Unmarshal([]byte("limit: 4096\n"), &cfg))
	assert.Equal(t, int64(4096), cfg.Limit.Bytes())

	assert.Error(t, yaml.Unmarshal([]byte("limit: [1]\n"), &cfg))
}
