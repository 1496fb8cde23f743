//go:build !linux

package netio

import (
	"fmt"
	"syscall"
)

// socketControl leaves default VRF sockets untouched and rejects VRF
// devices, which exist only on Linux.
func socketControl(device string) func(network, address string, c syscall.RawConn) error {
	if device == "" {
		return nil
	}
	return func(string, string, syscall.RawConn) error {
		return fmt.Errorf("bind to vrf %q: %w", device, ErrUnsupportedPlatform)
	}
}
