package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/g2link/pkg"
)

// =============================================================================
// Future Tests
// =============================================================================

func TestFuture_Result(t *testing.T) {
	f := newFuture[int]()
	if _, err := f.Result(); !errors.Is(err, ErrPending) {
		t.Errorf("Result() before completion = %v, want ErrPending", err)
	}

	f.resolve(7, nil)
	f.resolve(8, errors.New("late"))

	select {
	case <-f.Done():
	default:
		t.Fatal("Done() not closed")
	}
	if v, err := f.Result(); v != 7 || err != nil {
		t.Errorf("Result() = %d, %v; want 7, nil", v, err)
	}
}

func TestFuture_Wait(t *testing.T) {
	f := newFuture[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.resolve("ok", nil)
	}()
	if v, err := f.Wait(context.Background()); v != "ok" || err != nil {
		t.Errorf("Wait() = %q, %v", v, err)
	}

	pending := newFuture[string]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pending.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait(cancelled) = %v, want context.Canceled", err)
	}
}

func TestFuture_Failed(t *testing.T) {
	f := failed[int](pkg.ErrNotConnected)
	if _, err := f.Result(); !errors.Is(err, pkg.ErrNotConnected) {
		t.Errorf("Result() = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Queue Tests
// =============================================================================

func TestQueue_FIFO(t *testing.T) {
	q := newQueue()
	for _, name := range []string{"a", "b", "c"} {
		if err := q.push(&job{name: name}); err != nil {
			t.Fatalf("push failed: %v", err)
		}
	}
	if n := q.len(); n != 3 {
		t.Errorf("len() = %d, want 3", n)
	}
	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		j, ok := q.pop(ctx)
		if !ok || j.name != want {
			t.Fatalf("pop() = %v, want %s", j, want)
		}
	}
}

func TestQueue_PopBlocks(t *testing.T) {
	q := newQueue()
	got := make(chan string, 1)
	go func() {
		j, ok := q.pop(context.Background())
		if ok {
			got <- j.name
		}
	}()

	select {
	case name := <-got:
		t.Fatalf("pop returned %q from an empty queue", name)
	case <-time.After(20 * time.Millisecond):
	}
	q.push(&job{name: "late"})
	select {
	case name := <-got:
		if name != "late" {
			t.Errorf("pop() = %q, want late", name)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.pop(ctx); ok {
		t.Error("pop(cancelled) returned a job")
	}
}

func TestQueue_Close(t *testing.T) {
	q := newQueue()
	var failures []error
	fail := func(err error) { failures = append(failures, err) }

	q.push(&job{name: "a", fail: fail})
	cancelled := &job{name: "b", fail: fail}
	cancelled.claim()
	q.push(cancelled)
	q.push(&job{name: "c", fail: fail})

	q.close(pkg.ErrConnectionLost)
	if len(failures) != 2 {
		t.Fatalf("%d jobs failed, want 2", len(failures))
	}
	for _, err := range failures {
		if !errors.Is(err, pkg.ErrConnectionLost) {
			t.Errorf("failure = %v, want ErrConnectionLost", err)
		}
	}
	if err := q.push(&job{name: "d"}); !errors.Is(err, pkg.ErrNotConnected) {
		t.Errorf("push after close = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Listener Tests
// =============================================================================

func TestListeners(t *testing.T) {
	var l listeners[int]
	var got []string
	l.add(func(v int) { got = append(got, "first") })
	cancel := l.add(func(v int) { got = append(got, "second") })
	l.add(func(v int) { got = append(got, "third") })

	l.notify(1)
	cancel()
	l.notify(2)

	want := []string{"first", "second", "third", "first", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{ConnectionState(9), "state(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
