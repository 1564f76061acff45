package chat

import (
	"sync"
	"time"
)

// eventBudget caps inbound chat events per connection over a sliding window.
// The budget is sized for interactive traffic: typing never touches the
// socket, so even a busy client (streaming a reply, renaming chats, toggling
// bookmarks) sends a small fraction of the default 120 events / 10s.
type eventBudget struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

func newEventBudget(limit int, window time.Duration) *eventBudget {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &eventBudget{
		stamps: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow records an event at "now" and reports whether it fits the window.
func (b *eventBudget) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Stamps are appended in arrival order, so the expired ones form a prefix.
	cut := now.Add(-b.window)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cut) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}

	if len(b.stamps) >= b.limit {
		return false
	}
	b.stamps = append(b.stamps, now)
	return true
}
