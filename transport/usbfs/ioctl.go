//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package usbfs

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/ardnew/g2link/pkg"
	"golang.org/x/sys/unix"
)

// ioctl number layout shared by the supported architectures:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type
//	bits 16-29: argument size
//	bits 30-31: direction
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ior(typ, nr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }
func ioNoArg(typ, nr uintptr) uintptr { return ioc(iocNone, typ, nr, 0) }

// bulkTransfer mirrors struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32 // milliseconds
	data     unsafe.Pointer
}

// ifaceIoctl mirrors struct usbdevfs_ioctl, used to reach the kernel driver
// bound to one interface.
type ifaceIoctl struct {
	ifno int32
	code int32
	data unsafe.Pointer
}

const usbdevfsType = 'U'

var (
	ioctlBulk             = iowr(usbdevfsType, 2, unsafe.Sizeof(bulkTransfer{}))
	ioctlClaimInterface   = ior(usbdevfsType, 15, unsafe.Sizeof(uint32(0)))
	ioctlReleaseInterface = ior(usbdevfsType, 16, unsafe.Sizeof(uint32(0)))
	ioctlIfaceIoctl       = iowr(usbdevfsType, 18, unsafe.Sizeof(ifaceIoctl{}))
	ioctlDisconnect       = ioNoArg(usbdevfsType, 22)
	ioctlConnect          = ioNoArg(usbdevfsType, 23)
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

// bulk performs one synchronous bulk transfer. The direction follows the
// endpoint address.
func bulk(fd int, endpoint uint8, data []byte, timeoutMS uint32) (int, error) {
	xfer := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  timeoutMS,
	}
	if len(data) > 0 {
		xfer.data = unsafe.Pointer(&data[0])
	}
	return ioctl(fd, ioctlBulk, unsafe.Pointer(&xfer))
}

func claimInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctl(fd, ioctlClaimInterface, unsafe.Pointer(&n))
	return err
}

func releaseInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctl(fd, ioctlReleaseInterface, unsafe.Pointer(&n))
	return err
}

// detachDriver unbinds the kernel driver from iface. ENODATA means no driver
// was bound.
func detachDriver(fd int, iface uint8) error {
	cmd := ifaceIoctl{ifno: int32(iface), code: int32(ioctlDisconnect)}
	_, err := ioctl(fd, ioctlIfaceIoctl, unsafe.Pointer(&cmd))
	if errors.Is(err, unix.ENODATA) {
		return nil
	}
	return err
}

// attachDriver lets the kernel rebind its driver to iface.
func attachDriver(fd int, iface uint8) error {
	cmd := ifaceIoctl{ifno: int32(iface), code: int32(ioctlConnect)}
	_, err := ioctl(fd, ioctlIfaceIoctl, unsafe.Pointer(&cmd))
	return err
}

// =============================================================================
// Error Classification
// =============================================================================

func isTimeout(err error) bool {
	return errors.Is(err, unix.ETIMEDOUT)
}

func isNoDevice(err error) bool {
	return errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ESHUTDOWN)
}

func isPipe(err error) bool {
	return errors.Is(err, unix.EPIPE)
}

// transferError maps a usbfs errno to the driver's error set.
func transferError(err error) error {
	switch {
	case err == nil:
		return nil
	case isNoDevice(err):
		return fmt.Errorf("%w: %w", pkg.ErrDeviceDisconnected, err)
	case isPipe(err):
		return fmt.Errorf("%w: endpoint stalled: %w", pkg.ErrIO, err)
	default:
		return fmt.Errorf("%w: %w", pkg.ErrIO, err)
	}
}

// openError maps an error from opening the device node.
func openError(path string, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), isNoDevice(err):
		return fmt.Errorf("%w: %s: %w", pkg.ErrDeviceNotFound, path, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %s: %w", pkg.ErrDeviceBusy, path, err)
	default:
		return fmt.Errorf("%w: open %s: %w", pkg.ErrIO, path, err)
	}
}

// claimError maps an error from claiming the interface.
func claimError(iface uint8, err error) error {
	switch {
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: interface %d: %w", pkg.ErrDeviceBusy, iface, err)
	case isNoDevice(err):
		return fmt.Errorf("%w: %w", pkg.ErrDeviceDisconnected, err)
	default:
		return fmt.Errorf("%w: claim interface %d: %w", pkg.ErrIO, iface, err)
	}
}
