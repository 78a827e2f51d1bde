package engine

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ardnew/g2link/patch"
)

// ConnectionState is the engine's link status.
type ConnectionState int32

// Connection states. The values are exported as the connection state gauge.
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

// String returns a string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source says which side originated a parameter change.
type Source uint8

// Parameter change sources.
const (
	Host   Source = iota // acknowledged host edit
	Device               // front-panel or device-side edit
)

// String returns a string representation of the source.
func (s Source) String() string {
	if s == Device {
		return "device"
	}
	return "host"
}

// ParameterChange reports a parameter value that reached the graph.
type ParameterChange struct {
	Slot   patch.Slot
	Module patch.ModuleID
	Param  uint8
	Value  int
	Source Source
}

// listeners is a set of callbacks that can be removed individually.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// notify calls every listener in registration order, outside the lock.
func (l *listeners[T]) notify(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, id := range slices.Sorted(maps.Keys(l.fns)) {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
