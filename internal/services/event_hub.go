package services

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/models"
)

// EventHub fans compression record updates out to live dashboard clients.
// Slow subscribers miss updates rather than stall the compression path.
type EventHub struct {
	mu   sync.RWMutex
	subs map[chan models.Compression]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan models.Compression]struct{})}
}

// Subscribe returns a channel of updates and a function to stop receiving them.
func (h *EventHub) Subscribe(buffer int) (<-chan models.Compression, func()) {
	ch := make(chan models.Compression, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends rec to every subscriber without blocking.
func (h *EventHub) Publish(rec models.Compression) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- rec:
		default:
			log.Debug().Str("id", rec.ID).Msg("Dropping record update for slow subscriber")
		}
	}
}

// Subscribers returns the number of connected listeners.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
