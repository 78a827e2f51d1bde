package frame

import (
	"fmt"
	"time"

	"github.com/ardnew/g2link/pkg"
	"go.uber.org/zap"
)

// Kind is the first byte of a frame.
type Kind uint8

// Message classes.
const (
	KindCommand  Kind = 0x01
	KindResponse Kind = 0x02
	KindEvent    Kind = 0x03
)

// Kind flag bits.
const (
	chunkFlag Kind = 0x80
	classMask Kind = 0x7f
)

// Frame layout sizes.
const (
	HeaderSize      = 3 // kind + length
	ChunkHeaderSize = 4 // transferID + index + count
)

// Defaults.
const (
	DefaultMaxPayload = 60 // header + 60 + Sum8 fits a 64-byte packet
	DefaultMaxAge     = 5 * time.Second
	MaxChunks         = 255
)

// Class returns the message class with the chunk flag cleared.
func (k Kind) Class() Kind {
	return k & classMask
}

// IsChunk reports whether the chunk flag is set.
func (k Kind) IsChunk() bool {
	return k&chunkFlag != 0
}

// Valid reports whether the class is known.
func (k Kind) Valid() bool {
	switch k.Class() {
	case KindCommand, KindResponse, KindEvent:
		return true
	}
	return false
}

// String returns a string representation of the kind.
func (k Kind) String() string {
	var s string
	switch k.Class() {
	case KindCommand:
		s = "command"
	case KindResponse:
		s = "response"
	case KindEvent:
		s = "event"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
	if k.IsChunk() {
		s += "-chunk"
	}
	return s
}

// Message is one complete, validated message.
type Message struct {
	Kind    Kind // class only, never the chunk flag
	Payload []byte
}

// Options configures an [Encoder] or [Framer]. Both sides of a link must
// agree on MaxPayload and Checksum.
type Options struct {
	// MaxPayload bounds the payload of one frame. Larger messages are chunked.
	MaxPayload int

	// MaxAge bounds how long an incomplete chunked transfer is kept.
	MaxAge time.Duration

	// Checksum computes the frame trailer. Defaults to Sum8.
	Checksum Checksum

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnEvict is called for every incomplete transfer dropped by MaxAge.
	OnEvict func(transferID uint16, age time.Duration)

	// Logger receives framing diagnostics.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxPayload <= ChunkHeaderSize {
		o.MaxPayload = DefaultMaxPayload
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.Checksum == nil {
		o.Checksum = Sum8{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = pkg.Logger(pkg.ComponentFramer)
	}
	return o
}

// MaxMessage returns the largest message payload the options can carry.
func (o Options) MaxMessage() int {
	o = o.withDefaults()
	return MaxChunks * (o.MaxPayload - ChunkHeaderSize)
}

// Error is a framing error. It matches pkg.ErrFraming.
type Error struct {
	// Kind is the class of the damaged frame, or zero when the header
	// could not be trusted.
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return pkg.ErrFraming.Error() + ": " + e.Reason }

func (e *Error) Unwrap() error { return pkg.ErrFraming }

// frameError reports a framing error whose frame class is unknown.
func frameError(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// kindError reports a framing error in a frame of a known class.
func kindError(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind.Class(), Reason: fmt.Sprintf(format, args...)}
}
