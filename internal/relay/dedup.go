package relay

import (
	"log/slog"
	"sync"
	"time"
)

// Dedup suppresses duplicate background work for redelivered events.
//
// Slack retries a delivery when the endpoint is slow to acknowledge, reusing
// the same event_id. Entries expire after a TTL so the map stays bounded;
// there is no cross-restart persistence, which matches Slack's retry window
// of a few minutes.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // event_id → first-seen time

	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time // test hook
}

// NewDedup creates an event deduplicator with the given entry TTL.
func NewDedup(ttl time.Duration, logger *slog.Logger) *Dedup {
	return &Dedup{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Seen returns true if the event ID has already been processed within the
// TTL. If not, marks it as seen. An empty ID is never deduplicated.
func (d *Dedup) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.sweep(now)

	if first, ok := d.seen[eventID]; ok {
		d.logger.Debug("duplicate event delivery suppressed",
			"event_id", eventID, "first_seen", first)
		return true
	}
	d.seen[eventID] = now
	return false
}

// sweep drops expired entries. Caller holds the lock.
func (d *Dedup) sweep(now time.Time) {
	for id, first := range d.seen {
		if now.Sub(first) > d.ttl {
			delete(d.seen, id)
		}
	}
}
