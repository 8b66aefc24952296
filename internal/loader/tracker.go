// Package loader tracks in-flight loads so that a newer load supersedes older ones.
package loader

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is the cancellation cause of a load replaced by a newer one.
var ErrSuperseded = errors.New("load superseded by a newer one")

type slot struct {
	generation uint64
	cancel     context.CancelCauseFunc
}

// Tracker hands out generations per key. Beginning a new generation
// cancels the pending one for the same key. Generation numbers are unique
// across keys and never reused.
type Tracker struct {
	mu    sync.Mutex
	next  uint64
	slots map[string]*slot
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		slots: make(map[string]*slot),
	}
}

// Ticket identifies one load. Its context is canceled with ErrSuperseded when
// a newer load begins for the same key.
type Ticket struct {
	tracker    *Tracker
	key        string
	generation uint64
}

// Begin starts a new generation for key.
func (t *Tracker) Begin(ctx context.Context, key string) (context.Context, Ticket) {
	loadCtx, cancel := context.WithCancelCause(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok {
		s = &slot{}
		t.slots[key] = s
	} else if s.cancel != nil {
		s.cancel(ErrSuperseded)
	}

	t.next++
	s.generation = t.next
	s.cancel = cancel

	return loadCtx, Ticket{tracker: t, key: key, generation: s.generation}
}

// Generation returns the latest pending generation for key, 0 when idle.
func (t *Tracker) Generation(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[key]; ok {
		return s.generation
	}
	return 0
}

// Generation returns the ticket's generation number.
func (tk Ticket) Generation() uint64 {
	return tk.generation
}

// Current reports whether no newer load began since this ticket.
func (tk Ticket) Current() bool {
	return tk.tracker.Generation(tk.key) == tk.generation
}

// Done releases the ticket. The latest ticket of a key frees the key slot.
func (tk Ticket) Done() {
	t := tk.tracker

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[tk.key]
	if !ok || s.generation != tk.generation {
		return
	}

	s.cancel(context.Canceled)
	delete(t.slots, tk.key)
}
