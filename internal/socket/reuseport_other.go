// +build !linux

package socket

import "net"

// reuseportListenConfig is a no-op on platforms without SO_REUSEPORT
// support in this package (notably not wired for darwin/windows demo
// runs); binds still work, they just can't share a port across bases.
func reuseportListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
