// Package admission bounds how many pipeline runs execute at once and how
// many may queue behind them.
package admission

import (
	"context"
	"errors"
	"sync"
)

// ErrOverloaded is returned when both the in-flight limit and the backlog
// are full. Front-ends map it to HTTP 503 or a WebSocket error response.
var ErrOverloaded = errors.New("server overloaded")

// Controller admits at most Limit concurrent runs. Up to Backlog further
// callers wait in Acquire; anyone beyond that is rejected immediately.
type Controller struct {
	mu       sync.Mutex
	cond     *sync.Cond
	limit    int
	backlog  int
	inFlight int
	waiters  int
	admitted int64
	rejected int64
	abandons int64
}

// NewController creates a controller. A non-positive limit means 1; a
// negative backlog means 0 (no queueing).
func NewController(limit, backlog int) *Controller {
	if limit <= 0 {
		limit = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	c := &Controller{limit: limit, backlog: backlog}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Acquire blocks until a slot is free, the backlog is full (ErrOverloaded)
// or ctx ends (ctx.Err()). Every nil return must be paired with Release.
func (c *Controller) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.inFlight < c.limit && c.waiters == 0 {
		c.inFlight++
		c.admitted++
		c.mu.Unlock()
		return nil
	}
	if c.waiters >= c.backlog {
		c.rejected++
		c.mu.Unlock()
		return ErrOverloaded
	}

	c.waiters++
	done := make(chan struct{})
	cancelled := false

	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			cancelled = true
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()

	for {
		if cancelled {
			c.waiters--
			c.abandons++
			// Another waiter may be able to take the slot we were woken for.
			c.cond.Broadcast()
			c.mu.Unlock()
			close(done)
			return ctx.Err()
		}
		if c.inFlight < c.limit {
			c.inFlight++
			c.admitted++
			c.waiters--
			c.mu.Unlock()
			close(done)
			return nil
		}
		c.cond.Wait()
	}
}

// TryAcquire admits without waiting, ignoring the backlog.
func (c *Controller) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight < c.limit && c.waiters == 0 {
		c.inFlight++
		c.admitted++
		return true
	}
	return false
}

// Release frees a slot taken by Acquire or TryAcquire.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.cond.Signal()
	c.mu.Unlock()
}

// Stats is a point-in-time view of the controller.
type Stats struct {
	Limit     int   `json:"limit"`
	Backlog   int   `json:"backlog"`
	InFlight  int   `json:"in_flight"`
	Waiting   int   `json:"waiting"`
	Admitted  int64 `json:"admitted"`
	Rejected  int64 `json:"rejected"`
	Abandoned int64 `json:"abandoned"`
}

// Stats returns current counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Limit:     c.limit,
		Backlog:   c.backlog,
		InFlight:  c.inFlight,
		Waiting:   c.waiters,
		Admitted:  c.admitted,
		Rejected:  c.rejected,
		Abandoned: c.abandons,
	}
}
