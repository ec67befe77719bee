//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package lspbridge

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listenConfig returns a ListenConfig that sets SO_REUSEPORT when asked.
// SO_REUSEADDR is already set by the net package for listeners.
func listenConfig(reusePort bool) *net.ListenConfig {
	if !reusePort {
		return &net.ListenConfig{}
	}

	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctrlErr = errors.Wrap(err, "set SO_REUSEPORT")
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
}
