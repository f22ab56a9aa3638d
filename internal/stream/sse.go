// Package stream implements Server-Sent Events (SSE) streaming of alignment
// progress. Clients connect via GET /api/v1/stream/alignment and receive an
// event whenever the session changes: a sample is added, the axis is solved,
// a refresh lands, or the session resets.
//
// SSE message format:
//
//	data: {"type":"refresh","az_error":0.12,...}\n\n
//
// First message is always a metadata snapshot of the current session state,
// so a reconnecting client never renders stale progress:
//
//	data: {"type":"metadata","samples":2,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every Keepalive interval to prevent
// idle timeouts.
package stream

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/star/polargo/internal/httputil"
	"github.com/star/polargo/internal/metrics"
)

// Config holds streaming configuration.
type Config struct {
	MaxClients      int           // Global concurrent client cap.
	MaxClientsPerIP int           // Concurrent client cap per IP.
	Keepalive       time.Duration // Keep-alive comment interval.
	TrustProxy      bool          // Trust X-Forwarded-For for client IPs.
}

// Snapshot produces the metadata message sent first on every connection.
type Snapshot func() any

// Handler manages SSE streaming connections.
type Handler struct {
	hub      *Hub
	snapshot Snapshot
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a streaming handler fed by hub. snapshot supplies the
// per-connection metadata message; nil skips it.
func NewHandler(hub *Hub, snapshot Snapshot, config Config, logger *slog.Logger) *Handler {
	if config.Keepalive <= 0 {
		config.Keepalive = 15 * time.Second
	}
	return &Handler{
		hub:      hub,
		snapshot: snapshot,
		config:   config,
		limiter:  newStreamLimiter(config.MaxClientsPerIP, config.MaxClients),
		logger:   logger,
	}
}

// HandleAlignment serves the SSE alignment stream.
// GET /api/v1/stream/alignment
func (h *Handler) HandleAlignment(w http.ResponseWriter, r *http.Request) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		h.logger.Warn("stream limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.Error(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.StreamClientConnected(1)
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
	)

	// Cleanup on disconnect: release the limiter slot and update metrics.
	defer func() {
		h.limiter.release(ip)
		metrics.StreamClientConnected(-1)
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE response headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Use ResponseController to manage write deadlines for long-lived SSE.
	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Send jittered retry interval (3-7s) to prevent thundering-herd
	// reconnection storms when the server restarts.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	// Metadata snapshot is the first message on every connection.
	if h.snapshot != nil {
		if err := c.sendJSON(h.snapshot()); err != nil {
			h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
			return
		}
	}

	events := h.hub.subscribe()
	defer h.hub.unsubscribe(events)

	keepalive := time.NewTicker(h.config.Keepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case data := <-events:
			if err := c.sendRaw(data); err != nil {
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			// Reset keepalive since we just sent data.
			keepalive.Reset(h.config.Keepalive)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}
