// Package socket provides the packet-transport collaborator ice.Session and
// rudp.Channel are built against: a small PacketConn interface, a
// non-owning address->session router used to demux inbound datagrams, a
// real UDP implementation for the demo CLI, and an in-memory bus for
// scenario tests. Gathering candidates and actually picking which
// interface to bind stay out of scope here, matched from
// `_examples/lanikai-alohartc/internal/ice/base.go`'s createBase/readLoop,
// generalized behind an interface instead of embedding `net.PacketConn`
// directly so the engine can run over the in-memory Bus in tests.
package socket

import "net"

// PacketConn is what ice.Session and rudp.Channel send and receive
// datagrams through. ReadFrom additionally reports the local interface
// address the packet arrived on, since the session's peer-reflexive and
// "viaLocal" candidate matching needs it (RFC 8445 §7.2.5.2.1 "local
// candidate" disambiguation when a host has more than one base).
type PacketConn interface {
	ReadFrom(p []byte) (n int, localIP net.IP, remote net.Addr, err error)
	WriteTo(p []byte, remote net.Addr) (int, error)
	LocalAddr() net.Addr
	Close() error
}
