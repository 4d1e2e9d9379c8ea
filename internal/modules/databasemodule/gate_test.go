package databasemodule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForGate polls the gate until cond holds or the test fails.
func waitForGate(t *testing.T, g *Gate, cond func(GateStats) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(g.Stats()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gate never reached expected state: %+v", g.Stats())
}

func TestGateConcurrentReaders(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	release1, err := g.Acquire(ctx, ReadAccess)
	require.NoError(t, err)
	release2, err := g.Acquire(ctx, ReadAccess)
	require.NoError(t, err)

	stats := g.Stats()
	assert.Equal(t, 2, stats.ActiveReaders)
	assert.False(t, stats.WriterActive)
	assert.Equal(t, uint64(2), stats.AdmittedReads)

	release1()
	release2()
	assert.Equal(t, 0, g.Stats().ActiveReaders)
}

func TestGateSingleWriter(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	release1, err := g.Acquire(ctx, WriteAccess)
	require.NoError(t, err)

	admitted := make(chan func(), 1)
	go func() {
		release2, err := g.Acquire(ctx, WriteAccess)
		if err != nil {
			t.Errorf("second writer acquire failed: %v", err)
			return
		}
		admitted <- release2
	}()

	waitForGate(t, g, func(s GateStats) bool { return s.QueuedWriters == 1 })

	select {
	case <-admitted:
		t.Fatal("second writer admitted while first held the gate")
	case <-time.After(50 * time.Millisecond):
	}

	release1()

	select {
	case release2 := <-admitted:
		assert.True(t, g.Stats().WriterActive)
		release2()
	case <-time.After(2 * time.Second):
		t.Fatal("second writer never admitted")
	}

	assert.False(t, g.Stats().WriterActive)
}

func TestGateFIFOOrdering(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	// Active reader, then a writer queues, then a second reader queues.
	releaseR1, err := g.Acquire(ctx, ReadAccess)
	require.NoError(t, err)

	writerGot := make(chan func(), 1)
	go func() {
		release, err := g.Acquire(ctx, WriteAccess)
		if err != nil {
			t.Errorf("writer acquire failed: %v", err)
			return
		}
		writerGot <- release
	}()
	waitForGate(t, g, func(s GateStats) bool { return s.QueuedWriters == 1 })

	readerGot := make(chan func(), 1)
	go func() {
		release, err := g.Acquire(ctx, ReadAccess)
		if err != nil {
			t.Errorf("late reader acquire failed: %v", err)
			return
		}
		readerGot <- release
	}()
	waitForGate(t, g, func(s GateStats) bool { return s.QueuedReaders == 1 })

	// The late reader queues behind the pending writer instead of joining
	// the active reader, so writers are never starved.
	select {
	case <-readerGot:
		t.Fatal("reader admitted ahead of a queued writer")
	case <-time.After(50 * time.Millisecond):
	}

	releaseR1()

	var releaseW func()
	select {
	case releaseW = <-writerGot:
	case <-time.After(2 * time.Second):
		t.Fatal("writer not admitted after readers drained")
	}
	assert.True(t, g.Stats().WriterActive)

	// The queued reader keeps waiting while the writer holds the gate.
	select {
	case <-readerGot:
		t.Fatal("reader admitted while writer active")
	case <-time.After(50 * time.Millisecond):
	}

	releaseW()

	select {
	case releaseR2 := <-readerGot:
		releaseR2()
	case <-time.After(2 * time.Second):
		t.Fatal("reader not admitted after writer released")
	}
}

func TestGateBatchesAdjacentReaders(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	releaseW, err := g.Acquire(ctx, WriteAccess)
	require.NoError(t, err)

	readerGot := make(chan func(), 2)
	for i := 0; i < 2; i++ {
		go func() {
			release, err := g.Acquire(ctx, ReadAccess)
			if err != nil {
				t.Errorf("reader acquire failed: %v", err)
				return
			}
			readerGot <- release
		}()
	}
	waitForGate(t, g, func(s GateStats) bool { return s.QueuedReaders == 2 })

	releaseW()

	// Both queued readers are admitted as one batch.
	for i := 0; i < 2; i++ {
		select {
		case <-readerGot:
		case <-time.After(2 * time.Second):
			t.Fatal("queued reader not admitted after writer released")
		}
	}
	assert.Equal(t, 2, g.Stats().ActiveReaders)
}

func TestGateCancelQueuedWaiter(t *testing.T) {
	g := NewGate()

	release, err := g.Acquire(context.Background(), WriteAccess)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Acquire(cancelCtx, WriteAccess)
		errCh <- err
	}()
	waitForGate(t, g, func(s GateStats) bool { return s.QueuedWriters == 1 })

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter never returned")
	}
	waitForGate(t, g, func(s GateStats) bool { return s.QueuedWriters == 0 })

	release()

	// Gate remains usable after a cancelled waiter.
	release2, err := g.Acquire(context.Background(), WriteAccess)
	require.NoError(t, err)
	release2()
}

func TestGateCancelledWaiterUnblocksQueue(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	releaseR, err := g.Acquire(ctx, ReadAccess)
	require.NoError(t, err)

	// Writer queues first, reader queues behind it.
	cancelCtx, cancel := context.WithCancel(context.Background())
	writerErr := make(chan error, 1)
	go func() {
		_, err := g.Acquire(cancelCtx, WriteAccess)
		writerErr <- err
	}()
	waitForGate(t, g, func(s GateStats) bool { return s.QueuedWriters == 1 })

	readerGot := make(chan func(), 1)
	go func() {
		release, err := g.Acquire(ctx, ReadAccess)
		if err != nil {
			t.Errorf("reader acquire failed: %v", err)
			return
		}
		readerGot <- release
	}()
	waitForGate(t, g, func(s GateStats) bool { return s.QueuedReaders == 1 })

	// Cancelling the queued writer lets the reader behind it through.
	cancel()
	assert.ErrorIs(t, <-writerErr, context.Canceled)

	select {
	case release := <-readerGot:
		release()
	case <-time.After(2 * time.Second):
		t.Fatal("reader stayed blocked behind a cancelled writer")
	}

	releaseR()
}

func TestGateAcquireWithCancelledContext(t *testing.T) {
	g := NewGate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Acquire(ctx, ReadAccess)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, GateStats{}, g.Stats())
}

func TestGateClose(t *testing.T) {
	g := NewGate()

	release, err := g.Acquire(context.Background(), WriteAccess)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := g.Acquire(context.Background(), ReadAccess)
		errCh <- err
	}()
	waitForGate(t, g, func(s GateStats) bool { return s.QueuedReaders == 1 })

	g.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrGateClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("queued waiter not failed on close")
	}

	_, err = g.Acquire(context.Background(), ReadAccess)
	assert.ErrorIs(t, err, ErrGateClosed)

	// Admitted work still finishes normally.
	release()
}

func TestGateReleaseIsIdempotent(t *testing.T) {
	g := NewGate()

	release, err := g.Acquire(context.Background(), ReadAccess)
	require.NoError(t, err)

	release()
	release()

	stats := g.Stats()
	assert.Equal(t, 0, stats.ActiveReaders)
	assert.False(t, stats.WriterActive)
}
