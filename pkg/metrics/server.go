package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StatusServer serves /metrics, plus whatever probe routes the caller adds,
// on a port separate from the API.
type StatusServer struct {
	srv  *http.Server
	errc chan error
}

// StartServer listens on port in the background. routes maps ServeMux
// patterns such as "GET /health/live" to handlers.
func StartServer(port int, routes map[string]http.Handler) *StatusServer {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	for pattern, h := range routes {
		mux.Handle(pattern, h)
	}
	s := &StatusServer{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		errc: make(chan error, 1),
	}
	go func() {
		defer close(s.errc)
		slog.Info("status server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server error", "error", err)
			s.errc <- err
		}
	}()
	return s
}

// Err yields the listener error, or nil once the server has shut down
// cleanly.
func (s *StatusServer) Err() <-chan error { return s.errc }

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
