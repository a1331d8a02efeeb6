// Package transport implements the broker's loopback HTTP endpoint:
// the call/response tool-surface framing, long-poll semantics
// (inherited from the broker's own wait=true handling), and the
// read-only dashboard's static assets, overview API, and SSE stream.
// The HTTP lifecycle is a goroutine ListenAndServe paired with a
// ctx.Done-triggered graceful Shutdown; routing uses a method-pattern
// ServeMux with small decodeJSON/jsonResponse/jsonError helpers.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server wraps the broker's HTTP listener.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// New builds a Server bound to host:port, serving handler.
func New(host string, port int, handler http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log: log,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", host, port),
			Handler: handler,
		},
	}
}

// Start blocks until ctx is cancelled or the listener fails, then
// performs a bounded graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("transport listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
