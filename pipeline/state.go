package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/dcshock/defsync/clock"
)

// StageState is the value a stage broadcasts to the stage after it.
// Available implies Has: a stage never claims availability without a value.
type StageState[T any] struct {
	Available  bool
	Value      T
	Has        bool
	RunID      string
	ObservedAt time.Time
	// Seq increases by one on every write. Readers use it to detect changes.
	Seq uint64
}

// Cell holds the latest StageState of one stage. It has a single writer
// (the owning stage) and any number of readers. Readers always see a whole
// state; intermediate states may be skipped but the last one never is.
type Cell[T any] struct {
	mu      sync.Mutex
	state   StageState[T]
	changed chan struct{}
	clock   clock.Clock
}

// NewCell returns a cell in the "not available, no value" state.
func NewCell[T any](clk clock.Clock) *Cell[T] {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cell[T]{changed: make(chan struct{}), clock: clk}
}

// Snapshot returns the current state.
func (c *Cell[T]) Snapshot() StageState[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Changed returns a channel closed on the next write.
func (c *Cell[T]) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Publish marks the cell available with value.
func (c *Cell[T]) Publish(value T, runID string) StageState[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Available = true
	c.state.Value = value
	c.state.Has = true
	c.state.RunID = runID
	return c.commitLocked()
}

// MarkUnavailable clears availability, keeping the last value for reporting.
// It is a no-op when the cell is already unavailable; the bool reports
// whether a write happened.
func (c *Cell[T]) MarkUnavailable(runID string) (StageState[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Available {
		return c.state, false
	}
	c.state.Available = false
	c.state.RunID = runID
	return c.commitLocked(), true
}

func (c *Cell[T]) commitLocked() StageState[T] {
	c.state.Seq++
	c.state.ObservedAt = c.clock.Now()
	close(c.changed)
	c.changed = make(chan struct{})
	return c.state
}

// Wait blocks until the cell holds a state newer than seq and returns it.
// Pass the Seq of the last state handled; zero waits for the first write.
func (c *Cell[T]) Wait(ctx context.Context, seq uint64) (StageState[T], error) {
	for {
		c.mu.Lock()
		state, changed := c.state, c.changed
		c.mu.Unlock()
		if state.Seq > seq {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-changed:
		}
	}
}
