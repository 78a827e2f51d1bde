package protocol

import (
	"context"
	"slices"
	"sync"
)

// gate admits one holder at a time and grants waiters in arrival order.
type gate struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// acquire blocks until the gate is held, ctx is done or stop is closed.
func (g *gate) acquire(ctx context.Context, stop <-chan struct{}) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	var err error
	select {
	case <-w:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-stop:
		err = errStopped
	}

	g.mu.Lock()
	if i := slices.Index(g.waiters, w); i >= 0 {
		g.waiters = slices.Delete(g.waiters, i, i+1)
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()
	// Granted concurrently with cancellation; pass it on.
	g.release()
	return err
}

// release hands the gate to the oldest waiter or marks it free.
func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.waiters) == 0 {
		g.busy = false
		return
	}
	w := g.waiters[0]
	g.waiters = slices.Delete(g.waiters, 0, 1)
	close(w)
}

// waiting returns the number of blocked callers.
func (g *gate) waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
