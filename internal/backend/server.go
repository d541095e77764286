// Package backend implements a tier storage service and the protocol
// client the dispatcher uses to talk to it.
//
// Each server instance owns exactly one extension class and one storage
// root. Connections are served on independent goroutines that coordinate
// only through the filesystem; a failed request never takes the service
// down.
package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/filetier/filetier/internal/metrics"
	"github.com/filetier/filetier/internal/routing"
	"github.com/filetier/filetier/internal/store"
	"github.com/filetier/filetier/internal/tarball"
	"github.com/filetier/filetier/internal/vpath"
	"github.com/filetier/filetier/pkg/proto"
)

// Config describes one tier server.
type Config struct {
	Class         routing.Class // extension class this tier owns
	Listen        string        // TCP listen address
	Root          string        // physical storage root
	GzipArchives  bool          // gzip TAR payloads
	MaxUploadSize int64         // reject STOREs above this many bytes, 0 = no limit
}

// Server is a single-tier storage service.
type Server struct {
	cfg     Config
	store   *store.Store
	tr      *vpath.Translator
	metrics *metrics.ServerMetrics

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a tier server. It does not listen until Start.
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		store:   store.NewAt(cfg.Root),
		tr:      vpath.New(cfg.Class.String(), cfg.Root),
		metrics: metrics.New("backend", cfg.Class.String()),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Metrics exposes the server's metric set for scraping.
func (s *Server) Metrics() *metrics.ServerMetrics { return s.metrics }

// Start begins accepting connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = listener
	log.Info().
		Str("tier", s.cfg.Class.String()).
		Str("addr", listener.Addr().String()).
		Str("root", s.cfg.Root).
		Msg("tier server listening")
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address, useful when Listen was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Listen
	}
	return s.listener.Addr().String()
}

// Stop closes the listener. In-flight requests run to completion or until
// their connection fails; there is no forced cancellation.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Error().Err(err).Str("tier", s.cfg.Class.String()).Msg("accept error")
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ActiveConnections.Inc()
	defer s.metrics.ActiveConnections.Dec()

	logger := log.With().
		Str("tier", s.cfg.Class.String()).
		Str("conn", uuid.New().String()[:8]).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	logger.Debug().Msg("connection opened")

	br := bufio.NewReader(conn)
	for {
		line, err := proto.ReadLine(br)
		if err != nil {
			if err != io.EOF {
				logger.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		if line == "" {
			continue
		}
		verb, rest := proto.Cut(line)
		logger.Debug().Str("verb", verb).Str("args", rest).Msg("command received")

		var cmdErr error
		switch verb {
		case proto.VerbStore:
			cmdErr = s.handleStore(br, conn, rest, logger)
		case proto.VerbGet:
			cmdErr = s.handleGet(conn, rest)
		case proto.VerbDel:
			cmdErr = s.handleDel(conn, rest)
		case proto.VerbList:
			cmdErr = s.handleList(conn, rest)
		case proto.VerbTar:
			cmdErr = s.handleTar(conn, rest)
		default:
			cmdErr = proto.Errorf(conn, "Unknown command")
		}
		s.metrics.Command(verb, cmdErr)
		if cmdErr != nil {
			logger.Warn().Err(cmdErr).Str("verb", verb).Msg("command failed")
			// Errors already reported to the peer keep the connection
			// alive; a dead connection surfaces on the next read.
		}
	}
}

// handleStore receives "STORE <path> <size>" plus exactly size payload
// bytes. A truncated transfer leaves no partial file behind.
func (s *Server) handleStore(br *bufio.Reader, conn net.Conn, rest string, logger zerolog.Logger) error {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return proto.Errorf(conn, "Invalid STORE command")
	}
	size, err := proto.ParseSize(fields[1])
	if err != nil {
		return proto.Errorf(conn, "Invalid file size")
	}

	cr := &proto.CountingReader{R: br}
	if s.cfg.MaxUploadSize > 0 && size > s.cfg.MaxUploadSize {
		if derr := cr.DrainRest(size); derr != nil {
			_ = proto.WriteLine(conn, "ERROR")
			return fmt.Errorf("oversize store %s: drain: %w", fields[0], derr)
		}
		return proto.WriteLine(conn, "ERROR")
	}
	err = s.storePayload(fields[0], cr, size)
	if err != nil {
		// Consume whatever the peer still owes us so the next command
		// starts on a line boundary.
		if derr := cr.DrainRest(size); derr != nil {
			_ = proto.WriteLine(conn, "ERROR")
			return fmt.Errorf("store %s: %w", fields[0], err)
		}
		logger.Warn().Err(err).Str("path", fields[0]).Msg("store failed")
		return proto.WriteLine(conn, "ERROR")
	}
	s.metrics.BytesReceived.Add(float64(size))
	logger.Info().Str("path", fields[0]).Int64("size", size).Msg("file stored")
	return proto.WriteLine(conn, "SUCCESS")
}

func (s *Server) storePayload(virtual string, r io.Reader, size int64) error {
	rel, err := s.tr.Rel(virtual)
	if err != nil {
		return err
	}
	if rel == "." {
		return errors.New("store target is a directory")
	}
	return s.store.Put(rel, r, size)
}

// handleGet responds with "<size>\n<bytes>" or an explicit not-found error.
func (s *Server) handleGet(conn net.Conn, rest string) error {
	if rest == "" {
		return proto.Errorf(conn, "Invalid GET command")
	}
	rel, err := s.tr.Rel(rest)
	if err != nil {
		return proto.Errorf(conn, "Invalid file path")
	}
	rc, size, err := s.store.Open(rel)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return proto.Errorf(conn, "File not found")
		}
		return proto.Errorf(conn, "Cannot read file")
	}
	defer rc.Close()

	if err := proto.WriteSizeLine(conn, size); err != nil {
		return err
	}
	if _, err := io.CopyN(conn, rc, size); err != nil {
		return fmt.Errorf("send %s: %w", rel, err)
	}
	s.metrics.BytesSent.Add(float64(size))
	return nil
}

// handleDel unlinks the file and prunes empty ancestors. The response
// reflects only the unlink outcome.
func (s *Server) handleDel(conn net.Conn, rest string) error {
	if rest == "" {
		return proto.Errorf(conn, "Invalid DEL command")
	}
	rel, err := s.tr.Rel(rest)
	if err != nil {
		return proto.WriteLine(conn, "ERROR")
	}
	if err := s.store.Delete(rel); err != nil {
		return proto.WriteLine(conn, "ERROR")
	}
	return proto.WriteLine(conn, "SUCCESS")
}

// handleList sends "<size>\n<names>" for the immediate regular files of a
// directory. A missing directory is a zero-length result, not an error.
func (s *Server) handleList(conn net.Conn, rest string) error {
	dir := "."
	if rest != "" && rest != "." {
		rel, err := s.tr.Rel(rest)
		if err != nil {
			return proto.WriteSizeLine(conn, 0)
		}
		dir = rel
	}
	names, err := s.store.List(dir)
	if err != nil || len(names) == 0 {
		return proto.WriteSizeLine(conn, 0)
	}
	payload := strings.Join(names, "\n") + "\n"
	if err := proto.WriteSizeLine(conn, int64(len(payload))); err != nil {
		return err
	}
	_, err = io.WriteString(conn, payload)
	return err
}

// handleTar archives every file of the tier's own extension found anywhere
// under the root. No matches still produces a valid empty archive.
func (s *Server) handleTar(conn net.Conn, rest string) error {
	if rest != "" {
		class, err := routing.ParseClass(rest)
		if err != nil || class != s.cfg.Class {
			return proto.Errorf(conn, "%s tier only archives %s files",
				s.cfg.Class, s.cfg.Class.Ext())
		}
	}
	f, size, err := tarball.Create(s.store, s.cfg.Class.Ext(), s.cfg.GzipArchives)
	if err != nil {
		return proto.Errorf(conn, "Failed to build archive")
	}
	defer tarball.Cleanup(f)

	if err := proto.WriteSizeLine(conn, size); err != nil {
		return err
	}
	if _, err := io.CopyN(conn, f, size); err != nil {
		return fmt.Errorf("send archive: %w", err)
	}
	s.metrics.BytesSent.Add(float64(size))
	return nil
}
