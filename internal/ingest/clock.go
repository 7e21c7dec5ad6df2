package ingest

import (
	"sync"
	"time"
)

// snapshotClock hands out capture times that strictly increase, truncated to
// the microsecond precision both databases store.
type snapshotClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newSnapshotClock(now func() time.Time) *snapshotClock {
	if now == nil {
		now = time.Now
	}
	return &snapshotClock{now: now}
}

func (c *snapshotClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := normalize(c.now())
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	n := normalize(t)
	return &n
}
