package utils

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	DEFAULT_READ_TIMEOUT     = 60 * time.Second
	DEFAULT_WRITE_TIMEOUT    = DEFAULT_READ_TIMEOUT
	DEFAULT_SHUTDOWN_TIMEOUT = 30 * time.Second
)

// Server wraps http.Server with signal driven graceful shutdown.
type Server struct {
	*http.Server

	certFile string
	keyFile  string
	closers  []func() error
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		Server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  DEFAULT_READ_TIMEOUT,
			WriteTimeout: DEFAULT_WRITE_TIMEOUT,
		},
	}
}

// WithTLS serves HTTPS using the given key pair.
func (srv *Server) WithTLS(certFile, keyFile string) *Server {
	srv.certFile, srv.keyFile = certFile, keyFile
	return srv
}

// OnShutdown registers fn to run after the HTTP server stopped accepting requests.
// Closers run in reverse registration order.
func (srv *Server) OnShutdown(fn func() error) {
	srv.closers = append(srv.closers, fn)
}

// Run serves until SIGINT/SIGTERM or ctx cancellation, then drains in-flight
// requests and runs the shutdown closers.
func (srv *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.certFile != "" {
			err = srv.ListenAndServeTLS(srv.certFile, srv.keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		Sugar.Info("shutdown signal received, draining HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DEFAULT_SHUTDOWN_TIMEOUT)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Sugar.Errorf("HTTP server shutdown error: %v", err)
		} else {
			Sugar.Info("HTTP server shutdown success")
		}
		serveErr = <-errCh
	}

	for i := len(srv.closers) - 1; i >= 0; i-- {
		if err := srv.closers[i](); err != nil {
			Sugar.Warnf("shutdown closer failed: %v", err)
		}
	}
	return serveErr
}
