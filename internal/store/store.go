// Package store implements the on-disk file operations shared by the
// dispatcher's local tier and the backend storage tiers.
//
// All paths are tier-relative; the store is rooted in a billy.Filesystem
// (a chrooted osfs in production) so nothing can address files outside the
// tier root. The filesystem is the only shared resource between connection
// workers: directory creation ignores "already exists" and pruning stops at
// the first non-empty ancestor, so concurrent operations on unrelated paths
// need no coordination.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// ErrNotFound is returned when a path names no regular file.
var ErrNotFound = errors.New("store: file not found")

// Store provides file operations within one tier root.
type Store struct {
	fs billy.Filesystem
}

// New creates a store over the given filesystem.
func New(fs billy.Filesystem) *Store {
	return &Store{fs: fs}
}

// NewAt creates a store rooted at the given OS directory.
func NewAt(root string) *Store {
	return &Store{fs: osfs.New(root)}
}

// Put writes exactly size bytes from r to the tier-relative path, creating
// intermediate directories as needed. A short or failed transfer leaves no
// partial file behind: the file is deleted and now-empty directories are
// pruned before the error is returned.
func (s *Store) Put(rel string, r io.Reader, size int64) error {
	// MkdirAll with "." still creates the tier root itself on first use.
	dir := path.Dir(rel)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directories for %s: %w", rel, err)
	}
	f, err := s.fs.Create(rel)
	if err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	n, err := io.CopyN(f, r, size)
	cerr := f.Close()
	if err == nil && cerr != nil {
		err = cerr
	}
	if err != nil || n != size {
		_ = s.fs.Remove(rel)
		s.PruneEmpty(dir)
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// Open returns a reader over the file and its size. ErrNotFound is returned
// when the path does not name a regular file.
func (s *Store) Open(rel string) (io.ReadCloser, int64, error) {
	fi, err := s.fs.Stat(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, 0, fmt.Errorf("stat %s: %w", rel, err)
	}
	if fi.IsDir() {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	f, err := s.fs.Open(rel)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", rel, err)
	}
	return f, fi.Size(), nil
}

// Delete unlinks the file, then prunes now-empty ancestor directories up to
// (not including) the tier root. The returned error reflects only the
// unlink outcome; pruning is best effort.
func (s *Store) Delete(rel string) error {
	if fi, err := s.fs.Stat(rel); err != nil || fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err := s.fs.Remove(rel); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	s.PruneEmpty(path.Dir(rel))
	return nil
}

// PruneEmpty removes empty directories from dir upward, stopping at the
// tier root or at the first directory that is not empty. Racing a
// concurrent Put that repopulates a directory simply stops the walk.
func (s *Store) PruneEmpty(dir string) {
	for dir != "." && dir != "" && dir != "/" {
		if err := s.fs.Remove(dir); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}

// List returns the names of immediate regular files in the tier-relative
// directory, hidden entries excluded. A missing directory yields an empty
// list, not an error.
func (s *Store) List(dir string) ([]string, error) {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// WalkExt returns the tier-relative paths of every file under the root
// whose name carries the given extension, sorted for deterministic archive
// contents. The walk spans the whole tier, not one directory.
func (s *Store) WalkExt(ext string) ([]string, error) {
	var files []string
	err := util.Walk(s.fs, ".", func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if fi.IsDir() || !strings.EqualFold(path.Ext(p), ext) {
			return nil
		}
		files = append(files, path.Clean(strings.TrimPrefix(p, "./")))
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("walk tier root: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Filesystem exposes the underlying filesystem for archive building.
func (s *Store) Filesystem() billy.Filesystem { return s.fs }
