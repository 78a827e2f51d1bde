package pkg

import "errors"

// Transport errors.
var (
	// ErrDeviceNotFound indicates no USB device matched the configured IDs.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceBusy indicates the USB interface is claimed by another process.
	ErrDeviceBusy = errors.New("device busy")

	// ErrIO indicates a failed USB transfer.
	ErrIO = errors.New("i/o error")

	// ErrDeviceDisconnected indicates an endpoint error or device removal.
	ErrDeviceDisconnected = errors.New("device disconnected")
)

// Framing errors.
var (
	// ErrFraming indicates a corrupt or unrecognized frame.
	ErrFraming = errors.New("framing error")
)

// Protocol errors.
var (
	// ErrTimeout indicates no response arrived before the request deadline.
	ErrTimeout = errors.New("request timeout")

	// ErrConnectionLost indicates the session failed while a request was pending.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNotConnected indicates the session is not open.
	ErrNotConnected = errors.New("not connected")

	// ErrRejected indicates the device answered with a non-zero status.
	ErrRejected = errors.New("command rejected by device")

	// ErrVersionMismatch indicates the device speaks another protocol version.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrCancelled indicates the caller cancelled the operation.
	ErrCancelled = errors.New("operation cancelled")
)

// Synchronization errors.
var (
	// ErrPatchInconsistent indicates a patch references unknown modules or ports.
	ErrPatchInconsistent = errors.New("patch inconsistent")
)

// General errors.
var (
	// ErrAlreadyRunning indicates the session is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Status is the completion status byte carried by every device response.
type Status uint8

// Status values reported by the device.
const (
	StatusOK          Status = 0x00 // Command accepted
	StatusUnknownOp   Status = 0x01 // Opcode not supported
	StatusBadArgument Status = 0x02 // Malformed or out-of-range body
	StatusNoModule    Status = 0x03 // Module ID not present
	StatusNoPort      Status = 0x04 // Port index not present
	StatusBusy        Status = 0x05 // Device cannot accept the command now
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnknownOp:
		return "unknown opcode"
	case StatusBadArgument:
		return "bad argument"
	case StatusNoModule:
		return "no such module"
	case StatusNoPort:
		return "no such port"
	case StatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the status.
func (s Status) Error() error {
	switch s {
	case StatusOK:
		return nil
	case StatusNoModule, StatusNoPort:
		return &StatusError{Status: s, kind: ErrPatchInconsistent}
	default:
		return &StatusError{Status: s, kind: ErrRejected}
	}
}

// StatusError reports a non-zero response status.
type StatusError struct {
	Status Status
	kind   error
}

func (e *StatusError) Error() string {
	return e.kind.Error() + ": " + e.Status.String()
}

// Is reports whether target matches the error class of the status.
func (e *StatusError) Is(target error) bool {
	return target == e.kind || target == ErrRejected
}
