// Package tee detects which trusted execution environment the process runs in.
package tee

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Type is a trusted execution environment.
type Type int

const (
	// None means no TEE device was found.
	None Type = iota
	// TDX is an Intel TDX guest.
	TDX
	// SEV is an AMD SEV guest.
	SEV
	// TPM is a machine with a (virtual) TPM.
	TPM
)

// ErrUnsupported is returned for a TEE that can not be served.
var ErrUnsupported = errors.New("unsupported TEE")

func (t Type) String() string {
	switch t {
	case TDX:
		return "TDX"
	case SEV:
		return "SEV"
	case TPM:
		return "TPM"
	default:
		return "none"
	}
}

// Device nodes probed by Detect, in order of precedence.
var (
	tdxDevices = []string{"/dev/tdx-guest", "/dev/tdx-attest", "/dev/tdx_guest"}
	tpmDevices = []string{"/dev/tpm0"}
	sevDevices = []string{"/dev/sev-guest", "/dev/sev"}
)

// Detect returns the TEE whose device nodes exist below root.
// TDX takes precedence over TPM, which takes precedence over SEV.
// The deprecated TDX node still counts as TDX.
func Detect(root string) Type {
	switch {
	case anyExists(root, tdxDevices):
		return TDX
	case anyExists(root, tpmDevices):
		return TPM
	case anyExists(root, sevDevices):
		return SEV
	default:
		return None
	}
}

// Require returns ErrUnsupported unless t is TDX.
func Require(t Type) error {
	if t != TDX {
		return fmt.Errorf("%w: %s, only TDX guests are supported", ErrUnsupported, t)
	}
	return nil
}

func anyExists(root string, paths []string) bool {
	for _, path := range paths {
		if _, err := os.Stat(filepath.Join(root, path)); err == nil {
			return true
		}
	}
	return false
}
