// Package shutdown waits for an asynchronously reported set of worker
// terminations to reach a target count.
package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultPollInterval = time.Second

// CompletionSet is a set of identifiers safe for concurrent use. Producers
// Add identifiers as they observe completions while a waiter polls Len.
// The zero value is an empty set.
type CompletionSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewCompletionSet returns a set seeded with ids.
func NewCompletionSet(ids ...string) *CompletionSet {
	s := &CompletionSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Add inserts id. It reports whether id was new; adding an id twice is a
// no-op.
func (s *CompletionSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[id]; exists {
		return false
	}
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	s.ids[id] = struct{}{}
	return true
}

// Contains reports whether id has been added.
func (s *CompletionSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.ids[id]
	return exists
}

// Len returns the number of distinct ids added so far.
func (s *CompletionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Snapshot returns the ids added so far in sorted order.
func (s *CompletionSet) Snapshot() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// TimeoutError is returned when the expected count was not reached in
// time.
type TimeoutError struct {
	Expected int
	Observed int
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %d completions, observed %d",
		e.Timeout, e.Expected, e.Observed)
}

// Options tune WaitForCompletion. A zero PollInterval means one second; a
// zero Timeout means the wait is bounded only by the context.
type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// WaitForCompletion blocks until set holds at least expected ids. The set
// is checked before the first sleep and then once per poll interval. It
// returns a *TimeoutError when opts.Timeout elapses first and ctx.Err()
// when ctx is done.
func WaitForCompletion(ctx context.Context, expected int, set *CompletionSet, opts Options) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if set.Len() >= expected {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			// A completion may have landed between the last tick and the deadline.
			if observed := set.Len(); observed < expected {
				return &TimeoutError{Expected: expected, Observed: observed, Timeout: opts.Timeout}
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
