package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const shutdownTimeout = 10 * time.Second

// NewHTTPServer builds a server that also speaks HTTP/2 over cleartext so
// gRPC health probes and h2 load balancers can reach it.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE + WebSocket need unlimited write time
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv on ln until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, logger *slog.Logger, name string, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "name", name, "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "name", name, "err", err)
		return fmt.Errorf("%s shutdown: %w", name, err)
	}
	logger.Info("server stopped", "name", name)
	return nil
}

// ListenAndServe listens on srv.Addr and calls Serve.
func ListenAndServe(ctx context.Context, logger *slog.Logger, name string, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("%s listen: %w", name, err)
	}
	return Serve(ctx, logger, name, srv, ln)
}
