package vpath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRel(t *testing.T) {
	tr := New("root", "/srv/filetier/source")

	tests := []struct {
		name    string
		virtual string
		want    string
		wantErr bool
	}{
		{"aliased file", "root/docs/notes.txt", "docs/notes.txt", false},
		{"tilde alias", "~root/docs/notes.txt", "docs/notes.txt", false},
		{"alias only", "root", ".", false},
		{"tilde alias only", "~root", ".", false},
		{"alias trailing slash", "root/", ".", false},
		{"already relative", "docs/notes.txt", "docs/notes.txt", false},
		{"dot", ".", ".", false},
		{"empty", "", ".", false},
		{"inner dots collapse", "root/docs/../docs/a.txt", "docs/a.txt", false},
		{"escape", "root/../../etc/passwd", "", true},
		{"bare dotdot", "..", "", true},
		{"escape without alias", "../other", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Rel(tt.virtual)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEscapesRoot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	root := filepath.FromSlash("/srv/filetier/text")
	tr := New("text", root)

	got, err := tr.Resolve("text/docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "docs", "notes.txt"), got)

	got, err = tr.Resolve("text")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	_, err = tr.Resolve("text/../../x")
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestVirtual(t *testing.T) {
	tr := New("root", "/srv/filetier/source")
	assert.Equal(t, "root/docs/notes.txt", tr.Virtual("docs/notes.txt"))
	assert.Equal(t, "root", tr.Virtual("."))
	assert.Equal(t, "root", tr.Virtual(""))
}
