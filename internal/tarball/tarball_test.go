package tarball

import (
	"archive/tar"
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filetier/filetier/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return store.NewAt(filepath.Join(t.TempDir(), "tier"))
}

func put(t *testing.T, s *store.Store, rel, content string) {
	t.Helper()
	require.NoError(t, s.Put(rel, strings.NewReader(content), int64(len(content))))
}

func readEntries(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	entries := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return entries
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(data)
	}
}

func TestWrite_CollectsMatchingFilesRecursively(t *testing.T) {
	s := newStore(t)
	put(t, s, "a.pdf", "alpha")
	put(t, s, "docs/b.pdf", "beta")
	put(t, s, "docs/skip.txt", "nope")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, ".pdf", false))

	entries := readEntries(t, &buf)
	assert.Equal(t, map[string]string{
		"a.pdf":      "alpha",
		"docs/b.pdf": "beta",
	}, entries)
}

func TestWrite_EmptyArchiveIsValid(t *testing.T) {
	s := newStore(t)
	put(t, s, "only.txt", "x")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, ".pdf", false))

	// No matches still yields a readable archive with zero entries.
	assert.NotZero(t, buf.Len())
	entries := readEntries(t, &buf)
	assert.Empty(t, entries)
}

func TestWrite_Gzip(t *testing.T) {
	s := newStore(t)
	put(t, s, "a.txt", "hello")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, ".txt", true))

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	entries := readEntries(t, zr)
	assert.Equal(t, map[string]string{"a.txt": "hello"}, entries)
}

func TestCreate(t *testing.T) {
	s := newStore(t)
	put(t, s, "src/main.c", "int main(void) { return 0; }")

	f, size, err := Create(s, ".c", false)
	require.NoError(t, err)
	defer Cleanup(f)

	assert.Greater(t, size, int64(0))
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, size, int64(len(data)))

	entries := readEntries(t, bytes.NewReader(data))
	assert.Contains(t, entries, "src/main.c")
}
