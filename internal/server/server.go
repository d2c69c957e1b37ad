package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/xfilter/internal/engine"
)

const (
	// DefaultMaxInFlight bounds concurrent queries per WebSocket connection.
	DefaultMaxInFlight = 8
	// DefaultQueryTimeout bounds a single query execution.
	DefaultQueryTimeout = 60 * time.Second
	// maxMessageBytes caps one inbound request (REST body or WebSocket message).
	maxMessageBytes = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Server exposes a Connector to remote clients.
//
// Routes:
//
//	POST /query   - execute one query, JSON in and out
//	GET  /ws      - WebSocket; multiplexed requests keyed by id
//	GET  /healthz - liveness
//	GET  /metrics - Prometheus metrics
type Server struct {
	conn         engine.Connector
	logger       *slog.Logger
	maxInFlight  int
	queryTimeout time.Duration
	upgrader     websocket.Upgrader
	router       *gin.Engine

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxInFlight sets how many queries one WebSocket connection may have
// executing at once. Further requests wait for a slot.
func WithMaxInFlight(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxInFlight = n
		}
	}
}

// WithQueryTimeout bounds each query execution.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// WithCheckOrigin sets the WebSocket origin policy. The default accepts any
// origin.
func WithCheckOrigin(f func(*http.Request) bool) Option {
	return func(s *Server) {
		if f != nil {
			s.upgrader.CheckOrigin = f
		}
	}
}

// New creates a server for conn. conn is typically a *store.Store, or a
// Coordinator wrapped so that remote requests share its cache.
func New(conn engine.Connector, opts ...Option) *Server {
	s := &Server{
		conn:         conn,
		logger:       slog.Default(),
		maxInFlight:  DefaultMaxInFlight,
		queryTimeout: DefaultQueryTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sockets: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/query", s.handleQuery)
	router.GET("/ws", s.handleWebSocket)
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router = router

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on addr and serves until ctx ends, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.closeSockets)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("server started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
