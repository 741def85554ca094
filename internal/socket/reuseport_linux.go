// +build linux

package socket

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseportListenConfig returns a net.ListenConfig that sets SO_REUSEPORT
// on the listening socket before bind, so the demo CLI can open one base
// per local interface without two bases racing for the same ephemeral
// port allocation, in the spirit of `createBase` in
// `_examples/lanikai-alohartc/internal/ice/base.go`.
func reuseportListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
