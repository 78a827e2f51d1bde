//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package usbfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ardnew/g2link/pkg"
)

// System paths.
const (
	SysfsUSBPath = "/sys/bus/usb/devices"
	DevfsUSBPath = "/dev/bus/usb"
)

// deviceInfo describes a USB device found in sysfs.
type deviceInfo struct {
	sysfsPath string
	busNum    uint8
	devNum    uint8
	vendorID  uint16
	productID uint16
	serial    string
}

// devfsPath returns the device node below root.
func (d deviceInfo) devfsPath(root string) string {
	return filepath.Join(root, fmt.Sprintf("%03d", d.busNum), fmt.Sprintf("%03d", d.devNum))
}

// scanDevices lists the USB devices below root. Entries that cannot be
// parsed are skipped.
func scanDevices(root string) ([]deviceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []deviceInfo
	for _, entry := range entries {
		name := entry.Name()

		// Root hubs are "usbN"; interfaces are "<device>:<config>.<interface>".
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		info, err := parseDevice(filepath.Join(root, name))
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// parseDevice reads the attributes of one sysfs device directory.
func parseDevice(path string) (deviceInfo, error) {
	info := deviceInfo{sysfsPath: path}

	var err error
	if info.busNum, err = readUint8(filepath.Join(path, "busnum")); err != nil {
		return info, err
	}
	if info.devNum, err = readUint8(filepath.Join(path, "devnum")); err != nil {
		return info, err
	}
	if info.vendorID, err = readHexUint16(filepath.Join(path, "idVendor")); err != nil {
		return info, err
	}
	if info.productID, err = readHexUint16(filepath.Join(path, "idProduct")); err != nil {
		return info, err
	}
	info.serial, _ = readString(filepath.Join(path, "serial"))
	return info, nil
}

// findDevice returns the first device below root matching vid:pid, ordered
// by bus and device number.
func findDevice(root string, vid, pid uint16) (deviceInfo, error) {
	devices, err := scanDevices(root)
	if err != nil {
		return deviceInfo{}, fmt.Errorf("%w: scan %s: %w", pkg.ErrDeviceNotFound, root, err)
	}

	var found *deviceInfo
	for i := range devices {
		d := &devices[i]
		if d.vendorID != vid || d.productID != pid {
			continue
		}
		if found == nil || d.busNum < found.busNum ||
			(d.busNum == found.busNum && d.devNum < found.devNum) {
			found = d
		}
	}
	if found == nil {
		return deviceInfo{}, fmt.Errorf("%w: %04x:%04x", pkg.ErrDeviceNotFound, vid, pid)
	}
	return *found, nil
}

// =============================================================================
// Attribute Readers
// =============================================================================

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func readHexUint16(path string) (uint16, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
