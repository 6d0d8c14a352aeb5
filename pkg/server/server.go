// Package server runs the operations HTTP endpoint of a long-running sentry
// process. It serves whatever handler it is given (health, version and
// metrics in practice) behind recovery and access-log middleware, and shuts
// down gracefully when its context is canceled.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"datasentry-hq/sentry/pkg/config"
)

// Server owns one http.Server bound to the configured listen address.
type Server struct {
	config     config.ServerConfig
	handler    http.Handler
	logger     *slog.Logger
	httpServer *http.Server

	mu       sync.RWMutex
	addr     net.Addr
	running  bool
	stopOnce sync.Once
}

// New wraps handler with the middleware chain. A nil logger uses
// slog.Default().
func New(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")
	return &Server{
		config:  cfg,
		handler: Recovery(logger)(AccessLog(logger)(handler)),
		logger:  logger,
	}
}

// Handler returns the wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until ctx is canceled, then shuts down within the
// configured shutdown timeout. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.addr = ln.Addr()
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operations endpoint listening", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		s.markStopped()
		return fmt.Errorf("serve: %w", err)
	}
}

// Shutdown stops accepting connections and waits for in-flight requests up
// to the shutdown timeout. Only the first call does anything.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.stopOnce.Do(func() {
		s.mu.RLock()
		srv := s.httpServer
		s.mu.RUnlock()
		if srv == nil {
			return
		}

		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}
		s.logger.Info("shutting down operations endpoint", "timeout", s.config.ShutdownTimeout.String())
		if err := srv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown: %w", err)
		}
		s.markStopped()
	})
	return shutdownErr
}

// Addr returns the bound address once Start has begun listening.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
