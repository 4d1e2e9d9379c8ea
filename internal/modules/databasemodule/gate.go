package databasemodule

import (
	"context"
	"errors"
	"sync"
)

// Access is the kind of admission a caller requests from the gate.
type Access int

const (
	// ReadAccess admits alongside other readers.
	ReadAccess Access = iota
	// WriteAccess admits exclusively.
	WriteAccess
)

func (a Access) String() string {
	if a == WriteAccess {
		return "write"
	}
	return "read"
}

// ErrGateClosed is returned to callers waiting for admission when the gate
// shuts down.
var ErrGateClosed = errors.New("database gate is closed")

// Gate is the single admission point in front of the connection pool. Any
// number of readers may hold it concurrently; at most one writer holds it
// exclusively. Admission is strict FIFO: a reader arriving after a queued
// writer waits behind it, so writers cannot be starved by a stream of
// readers, and queued readers adjacent at the head are admitted as one
// batch, so readers cannot be starved either.
type Gate struct {
	mu      sync.Mutex
	queue   []*gateWaiter
	readers int
	writer  bool
	closed  bool

	admittedReads  uint64
	admittedWrites uint64
}

type gateWaiter struct {
	access Access
	ready  chan struct{}
	err    error
}

// GateStats is a snapshot of the gate's admission state.
type GateStats struct {
	ActiveReaders  int    `json:"active_readers"`
	WriterActive   bool   `json:"writer_active"`
	QueuedReaders  int    `json:"queued_readers"`
	QueuedWriters  int    `json:"queued_writers"`
	AdmittedReads  uint64 `json:"admitted_reads"`
	AdmittedWrites uint64 `json:"admitted_writes"`
}

// NewGate creates an open gate with an empty queue.
func NewGate() *Gate {
	return &Gate{}
}

// Acquire waits for admission and returns a release function. Release must
// be called exactly once; it is safe to call from a deferred statement even
// when the surrounding work panics. Acquire returns early with the context
// error if ctx is cancelled while queued, leaving the queue consistent.
func (g *Gate) Acquire(ctx context.Context, access Access) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &gateWaiter{access: access, ready: make(chan struct{})}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGateClosed
	}
	g.queue = append(g.queue, w)
	g.dispatch()
	g.mu.Unlock()

	select {
	case <-w.ready:
		if w.err != nil {
			return nil, w.err
		}
		var once sync.Once
		return func() { once.Do(func() { g.release(access) }) }, nil

	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-w.ready:
			// Admitted in the race with cancellation; hand the slot back.
			g.mu.Unlock()
			if w.err == nil {
				g.release(access)
			}
		default:
			g.removeWaiter(w)
			g.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// WithRead runs fn while holding read admission.
func (g *Gate) WithRead(ctx context.Context, fn func() error) error {
	release, err := g.Acquire(ctx, ReadAccess)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// WithWrite runs fn while holding exclusive write admission.
func (g *Gate) WithWrite(ctx context.Context, fn func() error) error {
	release, err := g.Acquire(ctx, WriteAccess)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Stats returns a snapshot of the admission state.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := GateStats{
		ActiveReaders:  g.readers,
		WriterActive:   g.writer,
		AdmittedReads:  g.admittedReads,
		AdmittedWrites: g.admittedWrites,
	}
	for _, w := range g.queue {
		if w.access == WriteAccess {
			stats.QueuedWriters++
		} else {
			stats.QueuedReaders++
		}
	}
	return stats
}

// Close fails every queued waiter with ErrGateClosed and rejects future
// acquisitions. Work already admitted runs to completion.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	for _, w := range g.queue {
		w.err = ErrGateClosed
		close(w.ready)
	}
	g.queue = nil
}

// dispatch admits waiters from the head of the queue. Adjacent readers at
// the head are admitted together; a writer is admitted alone once the gate
// drains. Callers must hold g.mu.
func (g *Gate) dispatch() {
	for len(g.queue) > 0 {
		head := g.queue[0]

		if head.access == ReadAccess {
			if g.writer {
				return
			}
			g.readers++
			g.admittedReads++
		} else {
			if g.writer || g.readers > 0 {
				return
			}
			g.writer = true
			g.admittedWrites++
		}

		g.queue = g.queue[1:]
		close(head.ready)

		if head.access == WriteAccess {
			return
		}
	}
}

// release returns an admission slot and admits the next waiters.
func (g *Gate) release(access Access) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if access == WriteAccess {
		g.writer = false
	} else if g.readers > 0 {
		g.readers--
	}
	g.dispatch()
}

// removeWaiter splices a cancelled waiter out of the queue. Callers must
// hold g.mu.
func (g *Gate) removeWaiter(target *gateWaiter) {
	for i, w := range g.queue {
		if w == target {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			// The departed waiter may have been blocking admissible work
			// behind it.
			g.dispatch()
			return
		}
	}
}
