// Package pipe provides an in-memory USB link between the driver and an
// emulated device.
//
// [New] returns both ends of one link. The [Host] end implements
// [transport.Transport]; the [End] is handed to a device emulator, which
// reads the host's buffers and writes its own. Unplugging the End behaves
// like pulling the USB cable: the host's read loop stops and reports
// [pkg.ErrDeviceDisconnected].
package pipe

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/transport"
	"go.uber.org/zap"
)

// Buffer depth of each direction.
const queueDepth = 256

// End is the device side of a link.
type End struct {
	toDevice   chan []byte
	fromDevice chan []byte

	mu        sync.Mutex
	unplugged chan struct{}
	plugged   bool
	claimed   bool
}

// Host is the driver side of a link.
type Host struct {
	end *End

	mu      sync.Mutex
	open    bool
	inbound chan []byte
	done    chan struct{}
	err     error
	wg      sync.WaitGroup
}

// New creates a plugged-in link.
func New() (*Host, *End) {
	end := &End{
		toDevice:   make(chan []byte, queueDepth),
		fromDevice: make(chan []byte, queueDepth),
		unplugged:  make(chan struct{}),
		plugged:    true,
	}
	return &Host{end: end}, end
}

// =============================================================================
// Host
// =============================================================================

// Open claims the link. Fails with pkg.ErrDeviceNotFound when the End is
// unplugged and pkg.ErrDeviceBusy when another host holds it.
func (h *Host) Open(ctx context.Context, cfg transport.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unplugged, err := h.end.claim()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		return pkg.ErrDeviceBusy
	}

	h.open = true
	h.err = nil
	h.inbound = make(chan []byte, queueDepth)
	h.done = make(chan struct{})

	h.wg.Add(1)
	go h.readLoop(h.inbound, h.done, unplugged)

	pkg.LogDebug(pkg.ComponentTransport, "pipe opened",
		zap.String("vid", fmt.Sprintf("0x%04x", cfg.VendorID)),
		zap.String("pid", fmt.Sprintf("0x%04x", cfg.ProductID)))
	return nil
}

// Send queues data for the device.
func (h *Host) Send(ctx context.Context, data []byte) error {
	h.mu.Lock()
	open, done := h.open, h.done
	h.mu.Unlock()
	if !open {
		return pkg.ErrNotConnected
	}

	h.end.mu.Lock()
	unplugged := h.end.unplugged
	h.end.mu.Unlock()

	buf := append([]byte(nil), data...)
	select {
	case <-unplugged:
		return fmt.Errorf("%w: %w", pkg.ErrIO, pkg.ErrDeviceDisconnected)
	case <-done:
		return pkg.ErrNotConnected
	default:
	}

	select {
	case h.end.toDevice <- buf:
		return nil
	case <-unplugged:
		return fmt.Errorf("%w: %w", pkg.ErrIO, pkg.ErrDeviceDisconnected)
	case <-done:
		return pkg.ErrNotConnected
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", pkg.ErrIO, ctx.Err())
	}
}

// Inbound returns the channel of buffers written by the device.
func (h *Host) Inbound() <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inbound
}

// Err returns the reason the read loop stopped.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Close releases the link. It is idempotent.
func (h *Host) Close() error {
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		return nil
	}
	h.open = false
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()
	h.end.release()

	pkg.LogDebug(pkg.ComponentTransport, "pipe closed")
	return nil
}

// readLoop forwards device buffers until the host closes or the End unplugs.
func (h *Host) readLoop(inbound chan []byte, done, unplugged <-chan struct{}) {
	defer h.wg.Done()
	defer close(inbound)

	for {
		select {
		case <-done:
			return
		case <-unplugged:
			h.drain(inbound, done)
			h.fail(pkg.ErrDeviceDisconnected)
			return
		case buf := <-h.end.fromDevice:
			select {
			case inbound <- buf:
			case <-done:
				return
			}
		}
	}
}

// drain delivers whatever the device wrote before it was unplugged.
func (h *Host) drain(inbound chan []byte, done <-chan struct{}) {
	for {
		select {
		case buf := <-h.end.fromDevice:
			select {
			case inbound <- buf:
			case <-done:
				return
			}
		default:
			return
		}
	}
}

func (h *Host) fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	pkg.LogDebug(pkg.ComponentTransport, "pipe read loop stopped", zap.Error(err))
}

// Ensure Host implements transport.Transport.
var _ transport.Transport = (*Host)(nil)

// =============================================================================
// End
// =============================================================================

// Read blocks until the host sends a buffer. Returns pkg.ErrDeviceDisconnected
// once unplugged.
func (e *End) Read(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	unplugged := e.unplugged
	e.mu.Unlock()

	select {
	case buf := <-e.toDevice:
		return buf, nil
	case <-unplugged:
		return nil, pkg.ErrDeviceDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write sends a buffer to the host.
func (e *End) Write(data []byte) error {
	e.mu.Lock()
	unplugged := e.unplugged
	e.mu.Unlock()

	buf := append([]byte(nil), data...)
	select {
	case <-unplugged:
		return pkg.ErrDeviceDisconnected
	default:
	}
	select {
	case e.fromDevice <- buf:
		return nil
	case <-unplugged:
		return pkg.ErrDeviceDisconnected
	}
}

// Unplug simulates device removal. It is idempotent.
func (e *End) Unplug() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.plugged {
		return
	}
	e.plugged = false
	close(e.unplugged)
}

// Close unplugs the End. It always returns nil.
func (e *End) Close() error {
	e.Unplug()
	return nil
}

// Plug reattaches an unplugged End, discarding buffers still in flight.
func (e *End) Plug() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.plugged {
		return
	}
	for len(e.toDevice) > 0 {
		<-e.toDevice
	}
	for len(e.fromDevice) > 0 {
		<-e.fromDevice
	}
	e.unplugged = make(chan struct{})
	e.plugged = true
}

// Plugged reports whether the End is attached.
func (e *End) Plugged() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plugged
}

func (e *End) claim() (<-chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.plugged {
		return nil, pkg.ErrDeviceNotFound
	}
	if e.claimed {
		return nil, pkg.ErrDeviceBusy
	}
	e.claimed = true
	return e.unplugged, nil
}

func (e *End) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.claimed = false
}
