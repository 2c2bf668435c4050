//go:build !linux
// +build !linux

package tdx

import (
	"errors"
	"unsafe"
)

func sysIoctl(_, _ uintptr, _ unsafe.Pointer) error {
	return errors.New("TDX guest ioctls are only supported on linux")
}
