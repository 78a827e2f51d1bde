//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package usbfs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/transport"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Read loop tuning.
const (
	pollTimeout  = 100 * time.Millisecond // IN transfer timeout per poll
	inboundDepth = 64
)

// Option configures a [Transport].
type Option func(*Transport)

// WithSysfsRoot overrides the directory scanned for devices.
func WithSysfsRoot(path string) Option {
	return func(t *Transport) { t.sysfsRoot = path }
}

// WithDevfsRoot overrides the directory holding device nodes.
func WithDevfsRoot(path string) Option {
	return func(t *Transport) { t.devfsRoot = path }
}

// Transport is a usbfs-backed [transport.Transport].
type Transport struct {
	sysfsRoot string
	devfsRoot string
	log       *zap.Logger

	mu      sync.Mutex
	open    bool
	cfg     transport.Config
	inbound chan []byte
	done    chan struct{}
	err     error
	wg      sync.WaitGroup

	// ioMu guards fd against Close while a transfer is in flight.
	ioMu sync.RWMutex
	fd   int
}

// New creates a closed transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		sysfsRoot: SysfsUSBPath,
		devfsRoot: DevfsUSBPath,
		log:       pkg.Logger(pkg.ComponentTransport),
		fd:        -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open finds the device, detaches any kernel driver from the configured
// interface, claims it and starts the read loop.
func (t *Transport) Open(ctx context.Context, cfg transport.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return pkg.ErrDeviceBusy
	}

	info, err := findDevice(t.sysfsRoot, cfg.VendorID, cfg.ProductID)
	if err != nil {
		return err
	}
	path := info.devfsPath(t.devfsRoot)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return openError(path, err)
	}
	if err := detachDriver(fd, cfg.Interface); err != nil {
		// Claiming reports EBUSY if a driver is still bound.
		t.log.Debug("detach kernel driver", zap.Uint8("interface", cfg.Interface), zap.Error(err))
	}
	if err := claimInterface(fd, cfg.Interface); err != nil {
		unix.Close(fd)
		return claimError(cfg.Interface, err)
	}

	t.ioMu.Lock()
	t.fd = fd
	t.ioMu.Unlock()

	t.open = true
	t.cfg = cfg
	t.err = nil
	t.inbound = make(chan []byte, inboundDepth)
	t.done = make(chan struct{})

	t.wg.Add(1)
	go t.readLoop(t.inbound, t.done, cfg)

	t.log.Info("device opened",
		zap.String("path", path),
		zap.String("vid", fmt.Sprintf("0x%04x", cfg.VendorID)),
		zap.String("pid", fmt.Sprintf("0x%04x", cfg.ProductID)),
		zap.String("serial", info.serial))
	return nil
}

// Send writes data to the OUT endpoint in one bulk transfer bounded by the
// configured send timeout.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrIO, err)
	}
	t.mu.Lock()
	open, cfg := t.open, t.cfg
	t.mu.Unlock()
	if !open {
		return pkg.ErrNotConnected
	}

	timeout := cfg.SendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: %w", pkg.ErrIO, context.DeadlineExceeded)
	}

	t.ioMu.RLock()
	defer t.ioMu.RUnlock()
	if t.fd < 0 {
		return pkg.ErrNotConnected
	}
	n, err := bulk(t.fd, cfg.OutEndpoint, data, uint32(timeout/time.Millisecond))
	if err != nil {
		return transferError(err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: short write %d of %d bytes", pkg.ErrIO, n, len(data))
	}
	return nil
}

// Inbound returns the channel of buffers read from the IN endpoint.
func (t *Transport) Inbound() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inbound
}

// Err returns the reason the read loop stopped.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close stops the read loop, releases the interface and closes the device
// node. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	close(t.done)
	iface := t.cfg.Interface
	t.mu.Unlock()

	t.wg.Wait()

	t.ioMu.Lock()
	defer t.ioMu.Unlock()
	if err := releaseInterface(t.fd, iface); err != nil && !isNoDevice(err) {
		t.log.Debug("release interface", zap.Error(err))
	}
	if err := attachDriver(t.fd, iface); err != nil {
		t.log.Debug("reattach kernel driver", zap.Error(err))
	}
	err := unix.Close(t.fd)
	t.fd = -1

	t.log.Debug("device closed")
	if err != nil {
		return fmt.Errorf("%w: close: %w", pkg.ErrIO, err)
	}
	return nil
}

// readLoop polls the IN endpoint until Close or a transfer error.
func (t *Transport) readLoop(inbound chan []byte, done <-chan struct{}, cfg transport.Config) {
	defer t.wg.Done()
	defer close(inbound)

	buf := make([]byte, cfg.PacketSize)
	timeout := uint32(pollTimeout / time.Millisecond)
	for {
		select {
		case <-done:
			return
		default:
		}

		t.ioMu.RLock()
		n, err := bulk(t.fd, cfg.InEndpoint, buf, timeout)
		t.ioMu.RUnlock()

		if err != nil {
			if isTimeout(err) {
				continue
			}
			t.fail(transferError(err))
			return
		}
		if n == 0 {
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		select {
		case inbound <- data:
		case <-done:
			return
		}
	}
}

func (t *Transport) fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.log.Warn("read loop stopped", zap.Error(err))
}

// Ensure Transport implements transport.Transport.
var _ transport.Transport = (*Transport)(nil)
