package dispatch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/filetier/filetier/internal/backend"
	"github.com/filetier/filetier/internal/routing"
	"github.com/filetier/filetier/internal/store"
	"github.com/filetier/filetier/internal/tarball"
	"github.com/filetier/filetier/pkg/bytesize"
	"github.com/filetier/filetier/pkg/proto"
)

// handleUpload serves "uploadf <filename> <destVirtualDir> <size>". The
// payload always lands in the dispatcher's own root first; non-source
// classes are then streamed to the owning tier and the local copy removed,
// succeed or fail. Whatever goes wrong, the declared payload is consumed
// before responding so the connection stays in sync.
func (s *Server) handleUpload(br *bufio.Reader, conn net.Conn, rest string, logger zerolog.Logger) error {
	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return proto.Errorf(conn, "Invalid uploadf command format")
	}
	filename, destDir := fields[0], fields[1]
	size, err := proto.ParseSize(fields[2])
	if err != nil {
		return proto.Errorf(conn, "Invalid file size")
	}

	cr := &proto.CountingReader{R: br}
	fail := func(format string, args ...any) error {
		if derr := cr.DrainRest(size); derr != nil {
			return fmt.Errorf("drain payload: %w", derr)
		}
		return proto.Errorf(conn, format, args...)
	}

	if s.cfg.MaxUploadSize > 0 && size > s.cfg.MaxUploadSize {
		return fail("File upload failed: file exceeds %s limit", bytesize.Format(s.cfg.MaxUploadSize))
	}
	class, err := routing.ClassForFile(filename)
	if err != nil {
		return fail("File upload failed: unsupported file extension")
	}
	destRel, err := s.tr.Rel(destDir)
	if err != nil {
		return fail("File upload failed: invalid destination path")
	}
	rel := path.Join(destRel, path.Base(filename))

	if err := s.store.Put(rel, cr, size); err != nil {
		logger.Warn().Err(err).Str("path", rel).Msg("local write failed")
		return fail("File upload failed")
	}
	s.metrics.BytesReceived.Add(float64(size))

	if class == routing.ClassSource {
		logger.Info().Str("path", rel).Int64("size", size).Msg("source file stored")
		return proto.Successf(conn, "File uploaded")
	}

	// Forward to the owning tier, then drop the staged local copy either way.
	err = s.forward(class, rel)
	if derr := s.store.Delete(rel); derr != nil {
		logger.Warn().Err(derr).Str("path", rel).Msg("could not remove staged copy")
	}
	if err != nil {
		logger.Warn().Err(err).Str("path", rel).Str("class", class.String()).Msg("forward failed")
		return proto.Errorf(conn, "File upload failed")
	}
	logger.Info().Str("path", rel).Str("class", class.String()).Msg("file forwarded to tier")
	return proto.Successf(conn, "File uploaded")
}

func (s *Server) forward(class routing.Class, rel string) error {
	client, ok := s.clientFor(class)
	if !ok {
		return fmt.Errorf("no tier configured for class %s", class)
	}
	rc, size, err := s.store.Open(rel)
	if err != nil {
		return err
	}
	defer rc.Close()
	return client.Store(rel, size, rc)
}

// handleDownload serves "downlf <virtualPath>": a size line and the raw
// bytes, streamed from local storage for source files and relayed
// pass-through from the owning tier for everything else.
func (s *Server) handleDownload(conn net.Conn, rest string, logger zerolog.Logger) error {
	if rest == "" {
		return proto.Errorf(conn, "Invalid downlf command format")
	}
	class, err := routing.ClassForFile(rest)
	if err != nil {
		return proto.Errorf(conn, "Invalid file path")
	}
	rel, err := s.tr.Rel(rest)
	if err != nil {
		return proto.Errorf(conn, "Invalid file path")
	}

	if class == routing.ClassSource {
		rc, size, err := s.store.Open(rel)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return proto.Errorf(conn, "File not found")
			}
			return proto.Errorf(conn, "Cannot read file")
		}
		defer rc.Close()
		return s.sendPayload(conn, rc, size)
	}

	client, ok := s.clientFor(class)
	if !ok {
		return proto.Errorf(conn, "Unsupported file type")
	}
	rc, size, err := client.Get(rel)
	if err != nil {
		return s.relayError(conn, err, logger)
	}
	defer rc.Close()
	return s.sendPayload(conn, rc, size)
}

// sendPayload writes the size line and exactly size bytes.
func (s *Server) sendPayload(conn net.Conn, r io.Reader, size int64) error {
	if err := proto.WriteSizeLine(conn, size); err != nil {
		return err
	}
	if _, err := io.CopyN(conn, r, size); err != nil {
		return fmt.Errorf("relay payload: %w", err)
	}
	s.metrics.BytesSent.Add(float64(size))
	return nil
}

// relayError passes a tier's error status line to the client verbatim and
// maps transport failures to a generic unavailable error.
func (s *Server) relayError(conn net.Conn, err error, logger zerolog.Logger) error {
	var remote *backend.RemoteError
	if errors.As(err, &remote) {
		return proto.WriteLine(conn, remote.Line)
	}
	logger.Warn().Err(err).Msg("tier request failed")
	return proto.Errorf(conn, "File server unavailable")
}

// handleRemove serves "removef <virtualPath>".
func (s *Server) handleRemove(conn net.Conn, rest string, logger zerolog.Logger) error {
	if rest == "" {
		return proto.Errorf(conn, "Invalid removef command format")
	}
	class, err := routing.ClassForFile(rest)
	if err != nil {
		return proto.Errorf(conn, "Invalid file path")
	}
	rel, err := s.tr.Rel(rest)
	if err != nil {
		return proto.Errorf(conn, "Invalid file path")
	}

	if class == routing.ClassSource {
		if err := s.store.Delete(rel); err != nil {
			return proto.Errorf(conn, "File not found or cannot remove")
		}
		return proto.Successf(conn, "File removed")
	}

	client, ok := s.clientFor(class)
	if !ok {
		return proto.Errorf(conn, "Unsupported file type")
	}
	if err := client.Del(rel); err != nil {
		var remote *backend.RemoteError
		if !errors.As(err, &remote) {
			logger.Warn().Err(err).Msg("tier request failed")
		}
		return proto.Errorf(conn, "File not found or cannot remove")
	}
	return proto.Successf(conn, "File removed")
}

// handleDownTar serves "downltar <extClass>": a namespace-wide archive of
// one extension class, built locally for source and relayed from the
// owning tier for pdf and text. Archives of archives are not supported.
func (s *Server) handleDownTar(conn net.Conn, rest string, logger zerolog.Logger) error {
	if rest == "" {
		return proto.Errorf(conn, "Invalid downltar command format")
	}
	class, err := routing.ParseClass(rest)
	if err != nil {
		return proto.Errorf(conn, "Invalid filetype (supported: .c, .pdf, .txt)")
	}
	if class == routing.ClassArchive {
		return proto.Errorf(conn, "Bundling archive files is not supported")
	}

	if class == routing.ClassSource {
		f, size, err := tarball.Create(s.store, class.Ext(), s.cfg.GzipArchives)
		if err != nil {
			logger.Warn().Err(err).Msg("archive build failed")
			return proto.Errorf(conn, "Failed to build archive")
		}
		defer tarball.Cleanup(f)
		return s.sendPayload(conn, f, size)
	}

	client, ok := s.clientFor(class)
	if !ok {
		return proto.Errorf(conn, "Unsupported file type")
	}
	rc, size, err := client.Tar(class)
	if err != nil {
		return s.relayError(conn, err, logger)
	}
	defer rc.Close()
	return s.sendPayload(conn, rc, size)
}
