package source

import (
	"context"
	"time"
)

// seenCapacity matches the de-duplication window of the upstream client.
const seenCapacity = 301

// FetchFunc returns the current page of a listing, newest first.
type FetchFunc func(ctx context.Context) ([]Item, error)

// StreamOptions configures a PollStream.
type StreamOptions struct {
	// SkipExisting drops everything returned by the first poll.
	SkipExisting bool
	// MinWait and MaxWait bound the delay between consecutive empty polls.
	MinWait time.Duration
	MaxWait time.Duration
}

// PollStream turns a listing endpoint into an infinite item stream. Items are
// yielded oldest first. A poll that returns nothing new yields a keepalive.
// The stream never ends; errors are returned to the caller and the next call
// polls again.
type PollStream struct {
	fetch   FetchFunc
	opts    StreamOptions
	seen    *seenSet
	pending []Item
	primed  bool
	wait    time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPollStream creates a stream over fetch.
func NewPollStream(fetch FetchFunc, opts StreamOptions) *PollStream {
	if opts.MinWait < 0 {
		opts.MinWait = 0
	}
	if opts.MaxWait < opts.MinWait {
		opts.MaxWait = opts.MinWait
	}
	return &PollStream{
		fetch: fetch,
		opts:  opts,
		seen:  newSeenSet(seenCapacity),
		sleep: sleepContext,
	}
}

// Next returns the next unseen item, or nil after a poll with no new items.
func (s *PollStream) Next(ctx context.Context) (Item, error) {
	if len(s.pending) > 0 {
		return s.pop(), nil
	}

	if s.wait > 0 {
		if err := s.sleep(ctx, s.wait); err != nil {
			return nil, err
		}
	}

	items, err := s.fetch(ctx)
	if err != nil {
		s.backoff()
		return nil, err
	}

	// Listings are newest first; walk backwards so the oldest is yielded first.
	var fresh []Item
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it == nil || s.seen.contains(it.ItemID()) {
			continue
		}
		s.seen.add(it.ItemID())
		fresh = append(fresh, it)
	}

	if !s.primed {
		s.primed = true
		if s.opts.SkipExisting {
			fresh = nil
		}
	}

	if len(fresh) == 0 {
		s.backoff()
		return nil, nil
	}

	s.wait = 0
	s.pending = fresh
	return s.pop(), nil
}

func (s *PollStream) pop() Item {
	it := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return it
}

func (s *PollStream) backoff() {
	switch {
	case s.wait == 0:
		s.wait = s.opts.MinWait
	default:
		s.wait *= 2
	}
	if s.wait > s.opts.MaxWait {
		s.wait = s.opts.MaxWait
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// seenSet remembers the most recent ids up to a fixed capacity.
type seenSet struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		ids:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

func (s *seenSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
}
