package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/reviewbroker/internal/dashboardassets"
)

// sessionHeader carries the caller's session identity. Each inbound
// HTTP request already runs on its own goroutine with no shared
// mutable connection state, so isolation falls out of the net/http
// request model; the header is logged alongside every call for
// observability and audit-trail correlation.
const sessionHeader = "X-Broker-Session-Id"

const maxRequestBodyBytes = 4 << 20 // 4 MiB: bounds unified-diff payloads without being unbounded

// Dispatcher is the subset of broker.Service the transport needs. A
// narrow interface (rather than importing *broker.Service directly)
// keeps this package testable against a stub.
type Dispatcher interface {
	Dispatch(ctx context.Context, op string, raw json.RawMessage) (json.RawMessage, error)
}

type router struct {
	svc Dispatcher
	log *slog.Logger
}

// NewRouter builds the broker's full HTTP handler: the tool-call
// endpoint, the static dashboard, its overview API, and its SSE
// stream.
func NewRouter(svc Dispatcher, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	rt := &router{svc: svc, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /call", rt.handleCall)

	mux.HandleFunc("GET /dashboard/api/overview", rt.handleOverview)
	mux.HandleFunc("GET /dashboard/events", rt.handleEvents)

	fileServer := http.FileServer(http.FS(dashboardassets.Static))
	mux.Handle("GET /dashboard/", rewriteDashboardPrefix(fileServer))
	mux.HandleFunc("GET /dashboard", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard/", http.StatusMovedPermanently)
	})

	return sessionMiddleware(rt.log)(mux)
}

// rewriteDashboardPrefix maps /dashboard/<path> to the embedded
// static/<path> tree (the embed.FS root is "static"). An empty <path>
// maps to the static/ directory itself, for which the file server
// serves index.html.
func rewriteDashboardPrefix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(r.URL.Path, "/dashboard/")
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/static/" + p
		next.ServeHTTP(w, r2)
	})
}

func sessionMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := strings.TrimSpace(r.Header.Get(sessionHeader))
			log.Debug("request", "method", r.Method, "path", r.URL.Path, "session", session)
			next.ServeHTTP(w, r)
		})
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data in request body")
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: message})
}
