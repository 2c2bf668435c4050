package tdx

import (
	"fmt"
	"os"
	"path/filepath"
)

// Locate detects which TDX guest driver is present below root and returns its protocol.
// root is the filesystem root, "/" on a real guest.
//
// The deprecated /dev/tdx-attest node is probed first. It only results in
// ErrDeprecatedDevice if none of the supported nodes exist.
func Locate(root string) (DeviceProtocol, error) {
	deprecated := exists(filepath.Join(root, DeprecatedDevicePath))

	if path := filepath.Join(root, GuestDevice10Path); exists(path) {
		return &protocol10{path: path, ioctl: sysIoctl}, nil
	}
	if path := filepath.Join(root, GuestDevice15Path); exists(path) {
		return &protocol15{path: path, ioctl: sysIoctl}, nil
	}

	if deprecated {
		return nil, fmt.Errorf("%w: %s is no longer supported", ErrDeprecatedDevice, DeprecatedDevicePath)
	}
	return nil, fmt.Errorf("%w: neither %s nor %s exist", ErrDeviceNotFound, GuestDevice10Path, GuestDevice15Path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
