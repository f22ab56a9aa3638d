package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/star/polargo/internal/metrics"
)

// subscriberBuffer is the per-client event queue depth. A client that falls
// this far behind starts losing events; the next metadata snapshot on
// reconnect resynchronizes it.
const subscriberBuffer = 16

// Hub fans alignment events out to connected stream clients.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[chan []byte]struct{}),
		logger: logger,
	}
}

// Broadcast marshals v and queues it to every subscriber. Slow subscribers
// drop the event rather than block the caller.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("stream broadcast marshal error", "error", err)
		return
	}
	metrics.StreamEventBroadcast()

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			h.logger.Debug("stream subscriber lagging, dropping event")
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}
