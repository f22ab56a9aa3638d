// Package api exposes the alignment workflow over HTTP: session state and
// mutation routes, run history, the SSE progress stream, and the usual
// health and metrics endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/polargo/internal/auth"
	"github.com/star/polargo/internal/health"
	"github.com/star/polargo/internal/metrics"
	"github.com/star/polargo/internal/stream"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. streamHandler may be nil when
// streaming is disabled.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, ctrl *Controller, streamHandler *stream.Handler) *Server {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return ctrl.Ready(ctx)
	}))
	mux.Handle("GET /metrics", metrics.Handler())

	h := &handlers{ctrl: ctrl, logger: logger}
	mux.HandleFunc("GET /api/v1/session", h.session)
	mux.HandleFunc("POST /api/v1/session/reset", h.reset)
	mux.HandleFunc("POST /api/v1/session/samples", h.addSample)
	mux.HandleFunc("POST /api/v1/session/solve", h.solve)
	mux.HandleFunc("POST /api/v1/session/refresh", h.refresh)
	mux.HandleFunc("POST /api/v1/session/corrected-pixel", h.correctedPixel)
	mux.HandleFunc("POST /api/v1/session/pixel-error", h.pixelError)
	mux.HandleFunc("GET /api/v1/runs", h.recentRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.runDetail)

	if streamHandler != nil {
		mux.HandleFunc("GET /api/v1/stream/alignment", streamHandler.HandleAlignment)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Long enough for a worst-case pixel-error grid search; the
			// SSE stream clears its own deadline per write.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// SSE stream needs for its per-write deadlines.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
