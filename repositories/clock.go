package repositories

import (
	"sync"
	"time"

	"convo-lab/domain"
)

// serverClock assigns message timestamps. Within one conversation every timestamp is
// strictly greater than the previous one, whatever the wall clock does.
type serverClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[domain.ConversationID]time.Time
}

func newServerClock(now func() time.Time) *serverClock {
	if now == nil {
		now = time.Now
	}
	return &serverClock{now: now, last: make(map[domain.ConversationID]time.Time)}
}

// next returns the timestamp of the next message of id. floor is the newest timestamp
// already on disk, used after a restart when the clock has no memory of id.
func (c *serverClock) next(id domain.ConversationID, floor time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[id]
	if !ok || floor.After(last) {
		last = floor
	}
	at := c.now().UTC()
	if !at.After(last) {
		at = last.Add(time.Nanosecond)
	}
	c.last[id] = at
	return at
}

func (c *serverClock) known(id domain.ConversationID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.last[id]
	return ok
}
