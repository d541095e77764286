package store

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "tier")
	return NewAt(root), root
}

func TestPutOpenRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	content := "hello tier"
	require.NoError(t, s.Put("docs/notes.txt", strings.NewReader(content), int64(len(content))))

	rc, size, err := s.Open("docs/notes.txt")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(len(content)), size)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestPut_AtTierRoot(t *testing.T) {
	s, root := newTestStore(t)

	// The tier root itself is created on demand.
	require.NoError(t, s.Put("a.txt", strings.NewReader("x"), 1))
	_, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
}

func TestPut_TruncatedTransferLeavesNothing(t *testing.T) {
	s, root := newTestStore(t)

	// Reader ends before the declared size.
	err := s.Put("deep/nested/short.txt", strings.NewReader("abc"), 100)
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(root, "deep", "nested", "short.txt"))
	assert.True(t, os.IsNotExist(err))
	// The directories created for the failed transfer are pruned too.
	_, err = os.Stat(filepath.Join(root, "deep"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, _, err := s.Open("missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put("dir/x.txt", strings.NewReader("x"), 1))
	_, _, err = s.Open("dir")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_PrunesEmptyAncestors(t *testing.T) {
	s, root := newTestStore(t)

	require.NoError(t, s.Put("a/b/c/last.txt", strings.NewReader("x"), 1))
	require.NoError(t, s.Put("a/sibling.txt", strings.NewReader("y"), 1))

	require.NoError(t, s.Delete("a/b/c/last.txt"))

	// b/c chain is gone, but "a" still holds sibling.txt.
	_, err := os.Stat(filepath.Join(root, "a", "b"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "a", "sibling.txt"))
	require.NoError(t, err)

	// The tier root itself is never pruned.
	require.NoError(t, s.Delete("a/sibling.txt"))
	fi, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestDelete_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	assert.ErrorIs(t, s.Delete("nope.txt"), ErrNotFound)
}

func TestList(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Put("docs/b.txt", strings.NewReader("x"), 1))
	require.NoError(t, s.Put("docs/a.pdf", strings.NewReader("x"), 1))
	require.NoError(t, s.Put("docs/.hidden", strings.NewReader("x"), 1))
	require.NoError(t, s.Put("docs/sub/c.txt", strings.NewReader("x"), 1))

	names, err := s.List("docs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.pdf", "b.txt"}, names)

	// Missing directory is an empty result, not an error.
	names, err = s.List("nope")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestWalkExt(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Put("one.txt", strings.NewReader("x"), 1))
	require.NoError(t, s.Put("deep/two.txt", strings.NewReader("x"), 1))
	require.NoError(t, s.Put("deep/er/three.TXT", strings.NewReader("x"), 1))
	require.NoError(t, s.Put("deep/skip.pdf", strings.NewReader("x"), 1))

	files, err := s.WalkExt(".txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"deep/er/three.TXT", "deep/two.txt", "one.txt"}, files)
}

func TestWalkExt_MissingRoot(t *testing.T) {
	s, _ := newTestStore(t)
	files, err := s.WalkExt(".txt")
	require.NoError(t, err)
	assert.Empty(t, files)
}
