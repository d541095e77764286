// Package tarball builds the archive streams served by downltar and the
// tier TAR command: one tar of every matching file anywhere under a tier
// root. A zero-match walk still produces a well-formed empty archive so
// clients always receive something tar can read.
package tarball

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/filetier/filetier/internal/store"
)

// Write streams an archive of every file with the given extension found
// recursively under the store's root. With compress set, the tar stream is
// gzip-wrapped; both ends of the wire must agree on this via configuration.
func Write(w io.Writer, s *store.Store, ext string, compress bool) error {
	if compress {
		zw := gzip.NewWriter(w)
		if err := writeTar(zw, s, ext); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	}
	return writeTar(w, s, ext)
}

func writeTar(w io.Writer, s *store.Store, ext string) error {
	files, err := s.WalkExt(ext)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(w)
	for _, rel := range files {
		if err := addFile(tw, s, rel); err != nil {
			_ = tw.Close()
			return err
		}
	}
	// Close writes the terminating blocks, which is all an empty archive is.
	return tw.Close()
}

func addFile(tw *tar.Writer, s *store.Store, rel string) error {
	rc, size, err := s.Open(rel)
	if err != nil {
		return err
	}
	defer rc.Close()

	hdr := &tar.Header{
		Name: rel,
		Mode: 0o644,
		Size: size,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %s: %w", rel, err)
	}
	if _, err := io.CopyN(tw, rc, size); err != nil {
		return fmt.Errorf("archive %s: %w", rel, err)
	}
	return nil
}

// Create builds the archive in a temporary file and returns it positioned
// at the start, along with its size. The wire protocol sends the byte count
// before the payload, so the archive must be materialized first; a spooled
// temp file keeps memory use flat regardless of archive size. The caller
// must call Cleanup when done.
func Create(s *store.Store, ext string, compress bool) (*os.File, int64, error) {
	f, err := os.CreateTemp("", "filetier-tar-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create temp archive: %w", err)
	}
	if err := Write(f, s, ext, compress); err != nil {
		Cleanup(f)
		return nil, 0, err
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		Cleanup(f)
		return nil, 0, fmt.Errorf("rewind temp archive: %w", err)
	}
	return f, size, nil
}

// Cleanup closes and removes a temp archive created by Create.
func Cleanup(f *os.File) {
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}
