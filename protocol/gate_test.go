package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGate_FIFO(t *testing.T) {
	var g gate
	ctx := context.Background()
	if err := g.acquire(ctx, nil); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.acquire(ctx, nil); err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			g.release()
		}()
		// Queue the waiters one after another.
		waitFor(t, func() bool { return g.waiting() == i+1 })
	}

	g.release()
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("grant order = %v, want ascending", order)
		}
	}
}

func TestGate_Cancel(t *testing.T) {
	var g gate
	g.acquire(context.Background(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- g.acquire(ctx, nil) }()
	waitFor(t, func() bool { return g.waiting() == 1 })

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("acquire() = %v, want Canceled", err)
	}
	if g.waiting() != 0 {
		t.Errorf("waiting() = %d after cancel", g.waiting())
	}

	// The cancelled waiter must not hold the gate.
	g.release()
	if err := g.acquire(context.Background(), nil); err != nil {
		t.Errorf("acquire after release failed: %v", err)
	}
}

func TestGate_Stop(t *testing.T) {
	var g gate
	g.acquire(context.Background(), nil)
	stop := make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- g.acquire(context.Background(), stop) }()
	waitFor(t, func() bool { return g.waiting() == 1 })

	close(stop)
	if err := <-errc; !errors.Is(err, errStopped) {
		t.Errorf("acquire() = %v, want errStopped", err)
	}
}
