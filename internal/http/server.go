// Package http provides the chi-based HTTP server shape shared by every
// loopback server dtvproxy binds: the per-session FLV relay servers, the
// fixed-port static/debug proxies, and (if embedded) an admin surface.
//
// Streaming responses must control their own headers and flushing, so unlike
// a JSON API server this package never wraps the router in an OpenAPI
// framework — a framework that commits a 200 status before the handler body
// runs cannot support a handler that needs to propagate an upstream error
// status after the fact.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmylchreest/dtvproxy/internal/http/middleware"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind to (default: "127.0.0.1" — these servers never leave loopback).
	Host string
	// Port is the port to listen on. Zero means "let the OS choose" (ephemeral session servers).
	Port int
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum amount of time to wait for the next request (HTTP keep-alive).
	IdleTimeout time.Duration
	// ShutdownTimeout is the maximum duration to wait for active connections to close gracefully.
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults. Read
// and write timeouts are zero (none) because these servers carry streaming
// relays that stay open for as long as the player reads.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ReadTimeout:     0,
		WriteTimeout:    0,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server wraps a chi router and a plain net/http server with both graceful
// (Shutdown) and immediate (Close) stop paths. Session servers use Close;
// a long-lived admin surface would use Shutdown.
type Server struct {
	config     ServerConfig
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with the given configuration.
func NewServer(config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}

	router := chi.NewRouter()

	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())
	// Deliberately no compression middleware: every route this server ever
	// carries is a binary media stream, and gzip-wrapping would both waste
	// CPU re-compressing already-compressed FLV payloads and break the
	// relay's "bytes out equal bytes in" contract.

	return &Server{
		config: config,
		router: router,
		logger: logger,
	}
}

// Router returns the Chi router for registering routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start binds the configured address and begins serving in a background
// goroutine, returning as soon as the bind succeeds. A Port of 0 lets the OS
// pick an ephemeral port; call Addr() afterward to read back what was bound.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP server", slog.String("address", listener.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server stopped unexpectedly", slog.Any("error", err))
		}
	}()

	return nil
}

// Addr returns the bound address (host:port), valid only after Start succeeds.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound TCP port, valid only after Start succeeds.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// Shutdown gracefully shuts down the server, waiting up to ShutdownTimeout
// for in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server", slog.Duration("timeout", s.config.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Close stops the server immediately, closing all active connections
// (including in-flight streaming relays) without waiting for them to drain.
// Session stop and stop-all use this non-graceful path deliberately: a
// player holding a relay connection open should not block session teardown.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

// ListenAndServe starts the server and blocks until ctx is cancelled or the
// server exits, then performs a graceful shutdown. Suitable for an admin
// surface; session servers use Start + Close directly instead.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	return s.Shutdown(context.Background())
}
