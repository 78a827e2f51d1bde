// Package usbfs reaches the synthesizer through the Linux usbfs interface.
//
// The device is located by scanning sysfs (/sys/bus/usb/devices/) for the
// configured vendor and product IDs, then opened through its node under
// /dev/bus/usb/. Any kernel driver bound to the interface is detached before
// the interface is claimed. Transfers use the synchronous USBDEVFS_BULK
// ioctl; no cgo is involved.
//
// # Requirements
//
// The user running the driver needs read/write access to the device node,
// either as root or through a udev rule such as:
//
//	SUBSYSTEM=="usb", ATTR{idVendor}=="0ffc", ATTR{idProduct}=="0002", MODE="0660", GROUP="plugdev"
//
// # Read loop
//
// After Open, a background goroutine polls the IN endpoint with a short
// timeout and forwards every non-empty transfer on [Transport.Inbound]. A
// removed device ends the loop with [pkg.ErrDeviceDisconnected].
package usbfs
