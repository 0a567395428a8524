package protocol

import (
	"context"
	"sync"
)

// Collector gathers the parts of a fanned-out operation. Responders call
// Add from any goroutine; Wait returns once the expected number of parts
// arrived or the context is done. Parts arriving after completion are
// dropped.
type Collector struct {
	expected int

	mu     sync.Mutex
	parts  []Part
	done   chan struct{}
	closed bool
}

// NewCollector returns a collector waiting for expected parts. A
// collector expecting zero parts is complete immediately.
func NewCollector(expected int) *Collector {
	c := &Collector{
		expected: expected,
		parts:    make([]Part, 0, expected),
		done:     make(chan struct{}),
	}
	if expected <= 0 {
		c.closed = true
		close(c.done)
	}
	return c
}

// Add records one part.
func (c *Collector) Add(part Part) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.parts = append(c.parts, part)
	if len(c.parts) >= c.expected {
		c.closed = true
		close(c.done)
	}
}

// Received returns the number of parts collected so far.
func (c *Collector) Received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.parts)
}

// Wait blocks until all expected parts arrived and returns them in
// arrival order. When ctx ends first it returns a *TimeoutError together
// with the parts received so far; the responders keep running.
func (c *Collector) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-c.done:
		return c.snapshot(), nil
	case <-ctx.Done():
		response := c.snapshot()
		return response, &TimeoutError{Expected: c.expected, Received: len(response.Parts)}
	}
}

func (c *Collector) snapshot() *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := make([]Part, len(c.parts))
	copy(parts, c.parts)
	return &Response{Parts: parts}
}
