// Package transport defines how the driver reaches the synthesizer's USB
// interface.
//
// A [Transport] moves raw byte buffers and knows nothing about frames or
// commands. Backends live in sub-packages: [github.com/ardnew/g2link/transport/usbfs]
// for Linux hosts and [github.com/ardnew/g2link/transport/pipe] for in-memory
// links used by tests and the device emulator.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/g2link/pkg"
)

// Default USB identifiers and endpoints of the synthesizer.
const (
	DefaultVendorID    = 0x0ffc
	DefaultProductID   = 0x0002
	DefaultInterface   = 0
	DefaultOutEndpoint = 0x03 // Bulk OUT
	DefaultInEndpoint  = 0x82 // Bulk IN
	DefaultPacketSize  = 512
	DefaultSendTimeout = 2 * time.Second
)

// Endpoint direction bit.
const endpointDirectionIn = 0x80

// Config carries the USB addressing supplied at [Transport.Open] time.
type Config struct {
	VendorID    uint16        `json:"vendorId"`
	ProductID   uint16        `json:"productId"`
	Interface   uint8         `json:"interface"`
	OutEndpoint uint8         `json:"outEndpoint"`
	InEndpoint  uint8         `json:"inEndpoint"`
	PacketSize  int           `json:"packetSize,omitempty"`
	SendTimeout time.Duration `json:"sendTimeout,omitempty"`
}

// DefaultConfig returns the configuration for the stock device.
func DefaultConfig() Config {
	return Config{
		VendorID:    DefaultVendorID,
		ProductID:   DefaultProductID,
		Interface:   DefaultInterface,
		OutEndpoint: DefaultOutEndpoint,
		InEndpoint:  DefaultInEndpoint,
		PacketSize:  DefaultPacketSize,
		SendTimeout: DefaultSendTimeout,
	}
}

// WithDefaults fills zero-valued fields from [DefaultConfig].
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.VendorID == 0 {
		c.VendorID = d.VendorID
	}
	if c.ProductID == 0 {
		c.ProductID = d.ProductID
	}
	if c.OutEndpoint == 0 {
		c.OutEndpoint = d.OutEndpoint
	}
	if c.InEndpoint == 0 {
		c.InEndpoint = d.InEndpoint
	}
	if c.PacketSize <= 0 {
		c.PacketSize = d.PacketSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}

// Validate checks endpoint directions and sizes.
func (c Config) Validate() error {
	if c.OutEndpoint&endpointDirectionIn != 0 {
		return fmt.Errorf("%w: out endpoint 0x%02x has IN direction", pkg.ErrInvalidParameter, c.OutEndpoint)
	}
	if c.InEndpoint&endpointDirectionIn == 0 {
		return fmt.Errorf("%w: in endpoint 0x%02x has OUT direction", pkg.ErrInvalidParameter, c.InEndpoint)
	}
	if c.PacketSize <= 0 {
		return fmt.Errorf("%w: packet size %d", pkg.ErrInvalidParameter, c.PacketSize)
	}
	return nil
}

// Transport moves raw buffers to and from the device.
//
// Implementations run their own background read loop after a successful
// Open. Inbound buffers are delivered on [Transport.Inbound] in arrival
// order; when the loop stops the channel is closed and [Transport.Err]
// reports why (typically [pkg.ErrDeviceDisconnected]).
type Transport interface {
	// Open acquires the USB interface described by cfg.
	// Fails with pkg.ErrDeviceNotFound or pkg.ErrDeviceBusy.
	Open(ctx context.Context, cfg Config) error

	// Send writes one buffer to the OUT endpoint.
	// Fails with pkg.ErrIO on transfer failure.
	Send(ctx context.Context, data []byte) error

	// Inbound returns the channel of received buffers.
	Inbound() <-chan []byte

	// Err returns the reason the read loop stopped, or nil while running.
	Err() error

	// Close releases the USB handle. It is idempotent.
	Close() error
}
