// Package server exposes the process health endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"flow-triggers/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv    *http.Server
	errCh  chan error
	logger logging.Logger
}

// New creates a new server instance
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		errCh:  make(chan error, 1),
		logger: logging.OrGlobal(logger).WithFields(logging.Field{Key: "component", Value: "http"}),
	}
}

// Start serves in the background. A listen failure is reported on Errors.
func (s *Server) Start() {
	go func() {
		s.logger.Info("health server listening", logging.Field{Key: "addr", Value: s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server stopped", err)
			s.errCh <- err
		}
	}()
}

// Errors delivers the error that stopped the server, if any
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
