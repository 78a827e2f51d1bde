package device

import (
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/protocol"
)

// Forever makes a fault apply to every matching response.
const Forever = -1

// faults holds pending fault injections. Guarded by Synth.mu.
type faults struct {
	corrupt int
	drop    map[protocol.Op]int
	unplug  map[protocol.Op]int
	reject  map[protocol.Op]pkg.Status
	replace map[protocol.Op][]byte
	ack     func(protocol.ParamValue) int
}

// CorruptResponses corrupts the checksum of the next n responses.
func (s *Synth) CorruptResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.corrupt = n
}

// DropResponses suppresses the next n responses to op, or all of them for
// [Forever].
func (s *Synth) DropResponses(op protocol.Op, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.drop == nil {
		s.faults.drop = make(map[protocol.Op]int)
	}
	s.faults.drop[op] = n
}

// UnplugAfter unplugs the link once the nth response to op has been sent.
func (s *Synth) UnplugAfter(op protocol.Op, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.unplug == nil {
		s.faults.unplug = make(map[protocol.Op]int)
	}
	s.faults.unplug[op] = n
}

// Reject answers every command of op with status instead of executing it.
// StatusOK clears the fault.
func (s *Synth) Reject(op protocol.Op, status pkg.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.reject == nil {
		s.faults.reject = make(map[protocol.Op]pkg.Status)
	}
	if status == pkg.StatusOK {
		delete(s.faults.reject, op)
		return
	}
	s.faults.reject[op] = status
}

// ReplaceResponse answers every command of op with an OK status and body
// instead of executing it. A nil body clears the fault.
func (s *Synth) ReplaceResponse(op protocol.Op, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.replace == nil {
		s.faults.replace = make(map[protocol.Op][]byte)
	}
	if body == nil {
		delete(s.faults.replace, op)
		return
	}
	s.faults.replace[op] = body
}

// SetAckFunc overrides the value acknowledged for set-param commands. The
// returned value is also what the device stores.
func (s *Synth) SetAckFunc(fn func(protocol.ParamValue) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.ack = fn
}

// take decrements a counter map entry and reports whether the fault fires.
func take(m map[protocol.Op]int, op protocol.Op) bool {
	n, ok := m[op]
	switch {
	case !ok || n == 0:
		return false
	case n == Forever:
		return true
	default:
		m[op] = n - 1
		return true
	}
}
