// Package dispatch implements the client-facing dispatcher: it parses
// commands, serves source files from its own storage root, and proxies
// everything else to the tier that owns the file's extension class.
package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/filetier/filetier/internal/backend"
	"github.com/filetier/filetier/internal/metrics"
	"github.com/filetier/filetier/internal/routing"
	"github.com/filetier/filetier/internal/store"
	"github.com/filetier/filetier/internal/vpath"
	"github.com/filetier/filetier/pkg/proto"
)

// Config describes the dispatcher.
type Config struct {
	Listen        string // TCP listen address for clients
	Root          string // storage root for source files
	Alias         string // virtual namespace alias, usually "root"
	GzipArchives  bool   // gzip downltar payloads built locally
	MaxUploadSize int64  // reject uploads above this many bytes, 0 = no limit
}

// Server is the single-entry dispatcher. One goroutine serves each client
// connection; commands within a connection are strictly sequential.
type Server struct {
	cfg     Config
	table   *routing.Table
	store   *store.Store
	tr      *vpath.Translator
	metrics *metrics.ServerMetrics
	clients map[routing.Class]*backend.Client

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a dispatcher routing remote classes through the given table.
func New(cfg Config, table *routing.Table) *Server {
	if cfg.Alias == "" {
		cfg.Alias = "root"
	}
	clients := make(map[routing.Class]*backend.Client)
	for _, tier := range table.Tiers() {
		clients[tier.Class] = backend.NewClient(tier.Addr)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		table:   table,
		store:   store.NewAt(cfg.Root),
		tr:      vpath.New(cfg.Alias, cfg.Root),
		metrics: metrics.New("dispatcher", ""),
		clients: clients,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Metrics exposes the dispatcher's metric set for scraping.
func (s *Server) Metrics() *metrics.ServerMetrics { return s.metrics }

// Start begins accepting client connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = listener
	log.Info().
		Str("addr", listener.Addr().String()).
		Str("root", s.cfg.Root).
		Str("alias", s.cfg.Alias).
		Msg("dispatcher listening")
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Listen
	}
	return s.listener.Addr().String()
}

// Stop closes the listener. Connected clients finish their current command
// or fail on their next read.
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
				log.Error().Err(err).Msg("accept error")
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
		Str("conn", uuid.New().String()[:8]).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	logger.Info().Msg("client connected")

	br := bufio.NewReader(conn)
	for {
		line, err := proto.ReadLine(br)
		if err != nil {
			if err != io.EOF {
				logger.Debug().Err(err).Msg("client read failed")
			}
			logger.Info().Msg("client disconnected")
			return
		}
		if line == "" {
			continue
		}
		verb, rest := proto.Cut(line)
		logger.Debug().Str("verb", verb).Str("args", rest).Msg("command received")

		var cmdErr error
		switch verb {
		case proto.CmdUpload:
			cmdErr = s.handleUpload(br, conn, rest, logger)
		case proto.CmdDownload:
			cmdErr = s.handleDownload(conn, rest, logger)
		case proto.CmdRemove:
			cmdErr = s.handleRemove(conn, rest, logger)
		case proto.CmdDownTar:
			cmdErr = s.handleDownTar(conn, rest, logger)
		case proto.CmdListNames:
			cmdErr = s.handleListNames(conn, rest)
		default:
			cmdErr = proto.Errorf(conn, "Unknown command")
		}
		s.metrics.Command(verb, cmdErr)
		if cmdErr != nil {
			logger.Warn().Err(cmdErr).Str("verb", verb).Msg("command failed")
		}
	}
}

func (s *Server) clientFor(class routing.Class) (*backend.Client, bool) {
	c, ok := s.clients[class]
	return c, ok
}
