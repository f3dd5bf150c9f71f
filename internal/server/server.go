// Package server accepts websocket connections and receives files over the
// "<code>;<payload>" command protocol.
//
// Every accepted connection runs in its own goroutine with its own receive
// buffer and transfer state; nothing about a transfer is stored on Server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/sheerbytes/wsdrop/internal/bufpool"
	"github.com/sheerbytes/wsdrop/internal/progress"
	"github.com/sheerbytes/wsdrop/internal/session"
	"github.com/sheerbytes/wsdrop/internal/storage"
	"github.com/sheerbytes/wsdrop/pkg/protocol"
)

const (
	// DefaultBufferSize is the per-connection receive buffer: one message, one file.
	DefaultBufferSize = 512 * 1024 * 1024

	writeWait         = 10 * time.Second
	closeGrace        = 2 * time.Second
	handshakeTimeout  = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Options configures a Server. Zero values fall back to the defaults noted on
// each field.
type Options struct {
	Subprotocols   []string      // default ["tccs"]
	BufferSize     int           // bytes, default DefaultBufferSize
	StorageDir     string        // default "Data"
	MaxConnections int           // 0 = unlimited
	ConnectsPerMin int           // per client IP, 0 = unlimited
	ConnectsBurst  int           // default 1 when ConnectsPerMin is set
	KeepAlive      time.Duration // ping interval, 0 disables
	IdleTimeout    time.Duration // 0 disables
	Chunked        bool          // accept code 2 chunked transfers
	MaxFileBytes   int64         // chunked transfers, 0 = unlimited
	Logger         *slog.Logger

	// OnMessage, if set, receives the payload of every send-message command.
	// It runs on the connection's goroutine.
	OnMessage func(ctx context.Context, info session.Session, text string)
}

// Server is the connection acceptor and lifecycle owner.
type Server struct {
	opts      Options
	logger    *slog.Logger
	store     *storage.Store
	buffers   *bufpool.Pool
	sessions  *session.Registry
	limiter   *ipLimiter
	supported SubprotocolSet
	upgrader  websocket.Upgrader
	httpSrv   *http.Server

	mu       sync.Mutex
	listener net.Listener

	disposed    atomic.Bool
	disposeOnce sync.Once
	handlers    sync.WaitGroup
}

type connIDKey struct{}

// New creates a server. It does not touch the network or the filesystem.
func New(opts Options) *Server {
	if len(opts.Subprotocols) == 0 {
		opts.Subprotocols = []string{protocol.DefaultSubprotocol}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.StorageDir == "" {
		opts.StorageDir = "Data"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		opts:      opts,
		logger:    opts.Logger,
		store:     storage.New(opts.StorageDir),
		buffers:   bufpool.New(opts.BufferSize),
		sessions:  session.NewRegistry(),
		limiter:   newIPLimiter(opts.ConnectsPerMin, opts.ConnectsBurst),
		supported: NewSubprotocolSet(opts.Subprotocols...),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true // peers are not browsers; any origin is accepted
			},
		},
	}
	s.httpSrv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(opts.Logger.Handler(), slog.LevelDebug),
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			return context.WithValue(ctx, connIDKey{}, session.NewID())
		},
	}
	return s
}

// Listen binds all interfaces on port and serves until Dispose is called.
// A bind failure is returned immediately; after Dispose, Listen returns nil.
func (s *Server) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d (is another application using it?): %w", port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Dispose is called. Each connection is
// handled on its own goroutine; with MaxConnections set, accepting pauses while
// the limit is reached.
func (s *Server) Serve(ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening",
		"addr", ln.Addr().String(),
		"subprotocols", s.supported.Names(),
		"buffer", progress.FormatBytes(int64(s.opts.BufferSize)),
		"storage_dir", s.store.Dir(),
		"max_connections", s.opts.MaxConnections,
		"chunked", s.opts.Chunked,
	)
	err := s.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions returns the registry of live websocket sessions.
func (s *Server) Sessions() *session.Registry {
	return s.sessions
}

// Dispose stops accepting connections. Only the first call has an effect.
// Upgraded connections are left running; they end when their peer closes or
// their receive fails. Errors are logged, never returned.
func (s *Server) Dispose() {
	s.disposeOnce.Do(func() {
		s.disposed.Store(true)
		if err := s.httpSrv.Close(); err != nil {
			s.logger.Error("close listener", "error", err)
		}
		s.logger.Info("server shutdown")
	})
}

// Wait blocks until every connection handler has returned. Call it after Dispose.
func (s *Server) Wait() {
	s.handlers.Wait()
}

// ServeHTTP is the per-connection entry point: health probe, upgrade, or drop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	logger := s.logger.With("conn_id", connID(r.Context()), "remote", r.RemoteAddr)
	if s.disposed.Load() {
		dropConnection(w, logger)
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			s.serveHealth(w)
		case r.Method == http.MethodGet && r.URL.Path == "/sessions":
			s.serveSessions(w)
		default:
			logger.Info("request has no websocket upgrade, ignoring", "method", r.Method, "path", r.URL.Path)
			dropConnection(w, logger)
		}
		return
	}

	if ip := clientIP(r); !s.limiter.Allow(ip) {
		logger.Warn("connect rate limit exceeded", "ip", ip)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	s.handleUpgrade(w, r, logger)
}

func (s *Server) serveHealth(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":             true,
		"sessions":       s.sessions.Count(),
		"buffers_in_use": s.buffers.InUse(),
	})
}

func (s *Server) serveSessions(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sessions.List())
}

func connID(ctx context.Context) string {
	if id, ok := ctx.Value(connIDKey{}).(string); ok {
		return id
	}
	return session.NewID()
}

// dropConnection closes the raw connection without writing a response.
func dropConnection(w http.ResponseWriter, logger *slog.Logger) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		logger.Debug("hijack for drop failed", "error", err)
		return
	}
	if err := conn.Close(); err != nil {
		logger.Debug("close dropped connection", "error", err)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
