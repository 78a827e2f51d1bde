//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package usbfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/transport"
)

func TestTransport_OpenNotFound(t *testing.T) {
	tr := New(WithSysfsRoot(t.TempDir()), WithDevfsRoot(t.TempDir()))
	err := tr.Open(context.Background(), transport.DefaultConfig())
	if !errors.Is(err, pkg.ErrDeviceNotFound) {
		t.Fatalf("Open = %v, want ErrDeviceNotFound", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close after failed Open = %v", err)
	}
}

func TestTransport_OpenMissingNode(t *testing.T) {
	sysfs := t.TempDir()
	writeDevice(t, sysfs, "1-1", synthAttrs("1", "5"))

	tr := New(WithSysfsRoot(sysfs), WithDevfsRoot(t.TempDir()))
	err := tr.Open(context.Background(), transport.DefaultConfig())
	if !errors.Is(err, pkg.ErrDeviceNotFound) {
		t.Fatalf("Open = %v, want ErrDeviceNotFound", err)
	}
}

// A regular file in place of the device node rejects the usbfs ioctls.
func TestTransport_OpenNotUsbfs(t *testing.T) {
	sysfs := t.TempDir()
	writeDevice(t, sysfs, "1-1", synthAttrs("1", "5"))
	devfs := t.TempDir()
	node := filepath.Join(devfs, "001", "005")
	if err := os.MkdirAll(filepath.Dir(node), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(node, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	tr := New(WithSysfsRoot(sysfs), WithDevfsRoot(devfs))
	err := tr.Open(context.Background(), transport.DefaultConfig())
	if !errors.Is(err, pkg.ErrIO) {
		t.Fatalf("Open = %v, want ErrIO", err)
	}
	if err := tr.Send(context.Background(), []byte{1}); !errors.Is(err, pkg.ErrNotConnected) {
		t.Errorf("Send after failed Open = %v, want ErrNotConnected", err)
	}
}

func TestTransport_OpenInvalidConfig(t *testing.T) {
	cfg := transport.DefaultConfig()
	cfg.OutEndpoint = 0x83

	tr := New(WithSysfsRoot(t.TempDir()))
	if err := tr.Open(context.Background(), cfg); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Open = %v, want ErrInvalidParameter", err)
	}
}

func TestTransport_OpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := New(WithSysfsRoot(t.TempDir()))
	if err := tr.Open(ctx, transport.DefaultConfig()); !errors.Is(err, context.Canceled) {
		t.Errorf("Open = %v, want context.Canceled", err)
	}
}

func TestTransport_ClosedState(t *testing.T) {
	tr := New()
	if err := tr.Send(context.Background(), []byte{1, 2}); !errors.Is(err, pkg.ErrNotConnected) {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
	if tr.Inbound() != nil {
		t.Error("Inbound should be nil before Open")
	}
	if tr.Err() != nil {
		t.Errorf("Err = %v, want nil", tr.Err())
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}
