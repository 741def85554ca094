package socket

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// UDPConn is the real-socket PacketConn implementation used by
// cmd/icesessiond. Candidate gathering picks which local IP to bind to
// (out of scope here, as in `_examples/lanikai-alohartc/internal/ice/base.go`'s
// createBase); this type's job is purely to report, per received packet,
// which local interface address it arrived on when bound to a wildcard
// address, via the ipv4/ipv6 destination control message — the same
// "viaLocal" information a non-wildcard bind already knows for free.
type UDPConn struct {
	conn    *net.UDPConn
	boundIP net.IP
	pc4     *ipv4.PacketConn
	pc6     *ipv6.PacketConn
}

// ListenUDP opens a UDP socket on laddr, with SO_REUSEPORT where the
// platform supports it (see reuseport_linux.go / reuseport_other.go), so a
// single demo process can open independent bases without port clashes.
func ListenUDP(network string, laddr *net.UDPAddr) (*UDPConn, error) {
	lc := reuseportListenConfig()
	pc, err := lc.ListenPacket(nil, network, laddr.String())
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)

	u := &UDPConn{conn: conn}
	if laddr.IP == nil || laddr.IP.IsUnspecified() {
		if isIPv6(network, laddr.IP) {
			pc6 := ipv6.NewPacketConn(conn)
			if err := pc6.SetControlMessage(ipv6.FlagDst, true); err == nil {
				u.pc6 = pc6
			}
		} else {
			pc4 := ipv4.NewPacketConn(conn)
			if err := pc4.SetControlMessage(ipv4.FlagDst, true); err == nil {
				u.pc4 = pc4
			}
		}
	} else {
		u.boundIP = laddr.IP
	}
	return u, nil
}

func isIPv6(network string, ip net.IP) bool {
	if network == "udp6" {
		return true
	}
	if network == "udp4" {
		return false
	}
	return ip != nil && ip.To4() == nil
}

// ReadFrom implements PacketConn.
func (u *UDPConn) ReadFrom(p []byte) (int, net.IP, net.Addr, error) {
	if u.boundIP != nil {
		n, remote, err := u.conn.ReadFrom(p)
		return n, u.boundIP, remote, err
	}
	if u.pc4 != nil {
		n, cm, remote, err := u.pc4.ReadFrom(p)
		var local net.IP
		if cm != nil {
			local = cm.Dst
		}
		return n, local, remote, err
	}
	if u.pc6 != nil {
		n, cm, remote, err := u.pc6.ReadFrom(p)
		var local net.IP
		if cm != nil {
			local = cm.Dst
		}
		return n, local, remote, err
	}
	n, remote, err := u.conn.ReadFrom(p)
	return n, nil, remote, err
}

// WriteTo implements PacketConn.
func (u *UDPConn) WriteTo(p []byte, remote net.Addr) (int, error) {
	return u.conn.WriteTo(p, remote)
}

// LocalAddr implements PacketConn.
func (u *UDPConn) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Close implements PacketConn.
func (u *UDPConn) Close() error {
	return u.conn.Close()
}
