package netio

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl binds a socket to device and enables SO_REUSEPORT.
func socketControl(device string) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); serr != nil {
				serr = fmt.Errorf("set SO_REUSEPORT: %w", serr)
				return
			}
			if device != "" {
				serr = bindToDevice(int(fd), device)
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}
