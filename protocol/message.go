package protocol

import (
	"fmt"

	"github.com/ardnew/g2link/pkg"
)

// ErrMalformed indicates a message that passed the checksum but could not
// be decoded.
var ErrMalformed = fmt.Errorf("%w: malformed message", pkg.ErrFraming)

// Header sizes.
const (
	commandHeaderSize  = 3
	responseHeaderSize = 4 // command header + status
	eventHeaderSize    = 2
)

// Header identifies a command or its response.
type Header struct {
	Channel Channel
	Code    Opcode
	Seq     uint8
}

// Request is a command submitted through [Session.Do].
type Request struct {
	Channel Channel
	Op      Op
	Body    []byte
}

// Response is the device's answer to a request.
type Response struct {
	Channel Channel
	Op      Op
	Seq     uint8
	Status  pkg.Status
	Body    []byte // after the status byte

	// Order is the position of the response in the inbound stream of the
	// session. Responses and events share one counter.
	Order uint64
}

// Event is an unsolicited device message.
type Event struct {
	Channel Channel
	Op      Op
	Code    Opcode
	Body    []byte

	// Order is the position of the event in the inbound stream of the
	// session. Responses and events share one counter.
	Order uint64
}

// AppendCommand appends a command payload to dst.
func AppendCommand(dst []byte, h Header, body []byte) []byte {
	dst = append(dst, byte(h.Channel), byte(h.Code), h.Seq)
	return append(dst, body...)
}

// ParseCommand splits a command payload.
func ParseCommand(p []byte) (Header, []byte, error) {
	if len(p) < commandHeaderSize {
		return Header{}, nil, fmt.Errorf("%w: command of %d bytes", ErrMalformed, len(p))
	}
	return Header{Channel: Channel(p[0]), Code: Opcode(p[1]), Seq: p[2]}, p[commandHeaderSize:], nil
}

// AppendResponse appends a response payload to dst.
func AppendResponse(dst []byte, h Header, status pkg.Status, body []byte) []byte {
	dst = append(dst, byte(h.Channel), byte(h.Code), h.Seq, byte(status))
	return append(dst, body...)
}

// ParseResponse splits a response payload.
func ParseResponse(p []byte) (Header, pkg.Status, []byte, error) {
	if len(p) < responseHeaderSize {
		return Header{}, 0, nil, fmt.Errorf("%w: response of %d bytes", ErrMalformed, len(p))
	}
	h := Header{Channel: Channel(p[0]), Code: Opcode(p[1]), Seq: p[2]}
	return h, pkg.Status(p[3]), p[responseHeaderSize:], nil
}

// AppendEvent appends an event payload to dst.
func AppendEvent(dst []byte, ch Channel, code Opcode, body []byte) []byte {
	dst = append(dst, byte(ch), byte(code))
	return append(dst, body...)
}

// ParseEvent splits an event payload.
func ParseEvent(p []byte) (Channel, Opcode, []byte, error) {
	if len(p) < eventHeaderSize {
		return 0, 0, nil, fmt.Errorf("%w: event of %d bytes", ErrMalformed, len(p))
	}
	return Channel(p[0]), Opcode(p[1]), p[eventHeaderSize:], nil
}
