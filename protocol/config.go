package protocol

import (
	"time"

	"github.com/ardnew/g2link/frame"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/pkg/metrics"
	"go.uber.org/zap"
)

// Default timeouts.
const (
	DefaultControlTimeout  = 2 * time.Second
	DefaultTransferTimeout = 10 * time.Second
	DefaultSendTimeout     = 2 * time.Second
	DefaultMaxRetransmits  = 1
)

// Direction of a message relative to the host.
type Direction uint8

// Directions.
const (
	Outbound Direction = iota
	Inbound
)

// String returns the metrics label of the direction.
func (d Direction) String() string {
	if d == Inbound {
		return metrics.DirectionIn
	}
	return metrics.DirectionOut
}

// Observer sees every message sent or received by a session. It is called
// from the I/O goroutine and must not block.
type Observer interface {
	Observe(dir Direction, msg frame.Message)
}

// Config is the configuration of one [Session].
type Config struct {
	// Table maps operations to opcodes. Defaults to Version1Table.
	Table *Table

	// ControlTimeout bounds control-class requests.
	ControlTimeout time.Duration

	// TransferTimeout bounds transfer-class requests.
	TransferTimeout time.Duration

	// SendTimeout bounds one transport write.
	SendTimeout time.Duration

	// MaxRetransmits is how often a pending request is resent after framing
	// errors before it fails. Zero selects the default; negative disables
	// retransmission.
	MaxRetransmits int

	// Frame configures the encoder and framer.
	Frame frame.Options

	// Logger defaults to the protocol component logger.
	Logger *zap.Logger

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Observer may be nil.
	Observer Observer

	// OnEvent receives unsolicited events in arrival order. It is called
	// from the I/O goroutine and must not block.
	OnEvent func(Event)
}

// DefaultConfig returns the configuration for the stock firmware.
func DefaultConfig() Config {
	return Config{
		Table:           Version1Table(),
		ControlTimeout:  DefaultControlTimeout,
		TransferTimeout: DefaultTransferTimeout,
		SendTimeout:     DefaultSendTimeout,
		MaxRetransmits:  DefaultMaxRetransmits,
	}
}

func (c Config) withDefaults() Config {
	if c.Table == nil {
		c.Table = Version1Table()
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = DefaultControlTimeout
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = DefaultTransferTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	switch {
	case c.MaxRetransmits == 0:
		c.MaxRetransmits = DefaultMaxRetransmits
	case c.MaxRetransmits < 0:
		c.MaxRetransmits = 0
	}
	if c.Logger == nil {
		c.Logger = pkg.Logger(pkg.ComponentProtocol)
	}
	return c
}

func (c Config) timeout(class TimeoutClass) time.Duration {
	if class == TransferClass {
		return c.TransferTimeout
	}
	return c.ControlTimeout
}
