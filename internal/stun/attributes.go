package stun

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// AttrType is a STUN attribute type (RFC 5389 §18.2, RFC 5245 §19.1, plus
// the RUDP channel-handshake extensions).
type AttrType uint16

const (
	AttrMappedAddress     AttrType = 0x0001
	AttrUsername          AttrType = 0x0006
	AttrMessageIntegrity  AttrType = 0x0008
	AttrErrorCode         AttrType = 0x0009
	AttrUnknownAttributes AttrType = 0x000A
	AttrRealm             AttrType = 0x0014
	AttrNonce             AttrType = 0x0015
	AttrXorMappedAddress  AttrType = 0x0020

	// RFC 5245 ICE attributes.
	AttrPriority       AttrType = 0x0024
	AttrUseCandidate   AttrType = 0x0025
	AttrIceControlled  AttrType = 0x8029
	AttrIceControlling AttrType = 0x802A

	AttrSoftware    AttrType = 0x8022
	AttrFingerprint AttrType = 0x8028

	// Vendor attributes for the RUDP channel-open handshake.
	// Chosen from the comprehension-optional range (0x8000-0xFFFF on
	// attributes unknown to a generic STUN stack are silently ignored).
	AttrChannelNumber   AttrType = 0xC001
	AttrSequenceNumber  AttrType = 0xC002
	AttrMinimumRTT      AttrType = 0xC003
	AttrLifetime        AttrType = 0xC004
	AttrChannelInfo     AttrType = 0xC005
	AttrACKRequestID    AttrType = 0xC006
)

func (t AttrType) String() string {
	switch t {
	case AttrMappedAddress:
		return "MAPPED-ADDRESS"
	case AttrUsername:
		return "USERNAME"
	case AttrMessageIntegrity:
		return "MESSAGE-INTEGRITY"
	case AttrErrorCode:
		return "ERROR-CODE"
	case AttrUnknownAttributes:
		return "UNKNOWN-ATTRIBUTES"
	case AttrRealm:
		return "REALM"
	case AttrNonce:
		return "NONCE"
	case AttrXorMappedAddress:
		return "XOR-MAPPED-ADDRESS"
	case AttrPriority:
		return "PRIORITY"
	case AttrUseCandidate:
		return "USE-CANDIDATE"
	case AttrIceControlled:
		return "ICE-CONTROLLED"
	case AttrIceControlling:
		return "ICE-CONTROLLING"
	case AttrSoftware:
		return "SOFTWARE"
	case AttrFingerprint:
		return "FINGERPRINT"
	case AttrChannelNumber:
		return "CHANNEL-NUMBER"
	case AttrSequenceNumber:
		return "SEQUENCE-NUMBER"
	case AttrMinimumRTT:
		return "MINIMUM-RTT"
	case AttrLifetime:
		return "LIFETIME"
	case AttrChannelInfo:
		return "CHANNEL-INFO"
	case AttrACKRequestID:
		return "ACK-REQUEST-ID"
	default:
		return fmt.Sprintf("attr(%#x)", uint16(t))
	}
}

// Attribute is a single TLV inside a Message.
type Attribute struct {
	Type  AttrType
	Value []byte
}

// numBytes is the attribute's total wire footprint: 4-byte header, value,
// and padding out to a 4-byte boundary.
func (a *Attribute) numBytes() int {
	return 4 + len(a.Value) + pad4(len(a.Value))
}

func pad4(n int) int {
	return -n & 3
}

func parseAttribute(b *bytes.Buffer) (Attribute, error) {
	if b.Len() < 4 {
		return Attribute{}, fmt.Errorf("short attribute header: %d bytes left", b.Len())
	}
	typ := AttrType(binary.BigEndian.Uint16(b.Next(2)))
	length := int(binary.BigEndian.Uint16(b.Next(2)))
	if length > b.Len() {
		return Attribute{}, fmt.Errorf("attribute %s: length %d exceeds remaining %d bytes", typ, length, b.Len())
	}
	value := make([]byte, length)
	copy(value, b.Next(length))
	b.Next(pad4(length))
	return Attribute{Type: typ, Value: value}, nil
}

func writeAttribute(a Attribute, out []byte) int {
	binary.BigEndian.PutUint16(out[0:2], uint16(a.Type))
	binary.BigEndian.PutUint16(out[2:4], uint16(len(a.Value)))
	n := copy(out[4:], a.Value)
	return 4 + n + pad4(n)
}

func (a *Attribute) describe(tid TransactionID) string {
	switch a.Type {
	case AttrXorMappedAddress:
		if addr, err := decodeXorAddress(a.Value, tid); err == nil {
			return fmt.Sprintf("XOR-MAPPED-ADDRESS=%s", addr)
		}
	case AttrUsername:
		return fmt.Sprintf("USERNAME=%s", string(a.Value))
	case AttrErrorCode:
		if len(a.Value) >= 4 {
			return fmt.Sprintf("ERROR-CODE=%d", int(a.Value[2])*100+int(a.Value[3]))
		}
	case AttrUseCandidate:
		return "USE-CANDIDATE"
	case AttrIceControlling:
		return "ICE-CONTROLLING"
	case AttrIceControlled:
		return "ICE-CONTROLLED"
	case AttrPriority:
		if len(a.Value) == 4 {
			return fmt.Sprintf("PRIORITY=%d", binary.BigEndian.Uint32(a.Value))
		}
	case AttrMessageIntegrity, AttrFingerprint, AttrSoftware:
		return a.Type.String()
	}
	return a.Type.String()
}

// AddRealm installs REALM.
func (msg *Message) AddRealm(realm string) {
	msg.AddAttribute(AttrRealm, []byte(realm))
}

// Realm extracts REALM, or "" if absent.
func (msg *Message) Realm() string {
	if attr := msg.Get(AttrRealm); attr != nil {
		return string(attr.Value)
	}
	return ""
}

// AddNonce installs NONCE.
func (msg *Message) AddNonce(nonce string) {
	msg.AddAttribute(AttrNonce, []byte(nonce))
}

// Nonce extracts NONCE, or "" if absent.
func (msg *Message) Nonce() string {
	if attr := msg.Get(AttrNonce); attr != nil {
		return string(attr.Value)
	}
	return ""
}

// AddUsername installs USERNAME as the raw concatenated string the caller
// supplies (conventionally "recipientFrag:senderFrag").
func (msg *Message) AddUsername(username string) {
	msg.AddAttribute(AttrUsername, []byte(username))
}

// Username extracts the raw USERNAME string, or ("", false) if absent.
func (msg *Message) Username() (string, bool) {
	if attr := msg.Get(AttrUsername); attr != nil {
		return string(attr.Value), true
	}
	return "", false
}

// SetXorMappedAddress installs XOR-MAPPED-ADDRESS for addr.
func (msg *Message) SetXorMappedAddress(addr net.Addr) {
	ip, port := hostPort(addr)
	msg.AddAttribute(AttrXorMappedAddress, encodeXorAddress(ip, port, msg.TransactionID))
}

// MappedAddress extracts MAPPED-ADDRESS or XOR-MAPPED-ADDRESS (preferring
// the XOR form), returning nil if neither is present.
func (msg *Message) MappedAddress() *net.UDPAddr {
	if attr := msg.Get(AttrXorMappedAddress); attr != nil {
		if addr, err := decodeXorAddress(attr.Value, msg.TransactionID); err == nil {
			return addr
		}
	}
	if attr := msg.Get(AttrMappedAddress); attr != nil {
		if addr, err := decodeAddress(attr.Value); err == nil {
			return addr
		}
	}
	return nil
}

func hostPort(addr net.Addr) (net.IP, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, a.Port
	case *net.TCPAddr:
		return a.IP, a.Port
	default:
		return nil, 0
	}
}

func decodeAddress(v []byte) (*net.UDPAddr, error) {
	if len(v) < 4 {
		return nil, fmt.Errorf("short MAPPED-ADDRESS")
	}
	port := int(binary.BigEndian.Uint16(v[2:4]))
	switch v[1] {
	case 0x01:
		if len(v) < 8 {
			return nil, fmt.Errorf("short IPv4 MAPPED-ADDRESS")
		}
		return &net.UDPAddr{IP: append(net.IP(nil), v[4:8]...), Port: port}, nil
	case 0x02:
		if len(v) < 20 {
			return nil, fmt.Errorf("short IPv6 MAPPED-ADDRESS")
		}
		return &net.UDPAddr{IP: append(net.IP(nil), v[4:20]...), Port: port}, nil
	default:
		return nil, fmt.Errorf("unknown address family %#x", v[1])
	}
}

func encodeXorAddress(ip net.IP, port int, tid TransactionID) []byte {
	var v []byte
	if ip4 := ip.To4(); ip4 != nil {
		v = make([]byte, 8)
		v[1] = 0x01
		binary.BigEndian.PutUint16(v[2:4], uint16(port))
		copy(v[4:8], ip4)
		xorBytes(v[2:4], magicCookieBytes[0:2])
		xorBytes(v[4:8], magicCookieBytes[:])
	} else {
		ip16 := ip.To16()
		v = make([]byte, 20)
		v[1] = 0x02
		binary.BigEndian.PutUint16(v[2:4], uint16(port))
		copy(v[4:20], ip16)
		xorBytes(v[2:4], magicCookieBytes[0:2])
		xorBytes(v[4:8], magicCookieBytes[:])
		xorBytes(v[8:20], tid[:])
	}
	return v
}

func decodeXorAddress(v []byte, tid TransactionID) (*net.UDPAddr, error) {
	if len(v) < 4 {
		return nil, fmt.Errorf("short XOR-MAPPED-ADDRESS")
	}
	portBytes := append([]byte(nil), v[2:4]...)
	xorBytes(portBytes, magicCookieBytes[0:2])
	port := int(binary.BigEndian.Uint16(portBytes))

	switch v[1] {
	case 0x01:
		if len(v) < 8 {
			return nil, fmt.Errorf("short IPv4 XOR-MAPPED-ADDRESS")
		}
		ip := append([]byte(nil), v[4:8]...)
		xorBytes(ip, magicCookieBytes[:])
		return &net.UDPAddr{IP: ip, Port: port}, nil
	case 0x02:
		if len(v) < 20 {
			return nil, fmt.Errorf("short IPv6 XOR-MAPPED-ADDRESS")
		}
		ip := append([]byte(nil), v[4:20]...)
		xorBytes(ip[0:4], magicCookieBytes[:])
		xorBytes(ip[4:16], tid[:])
		return &net.UDPAddr{IP: ip, Port: port}, nil
	default:
		return nil, fmt.Errorf("unknown address family %#x", v[1])
	}
}

func xorBytes(dst []byte, xor []byte) {
	for i := range dst {
		dst[i] ^= xor[i]
	}
}

// AddPriority installs PRIORITY.
func (msg *Message) AddPriority(p uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, p)
	msg.AddAttribute(AttrPriority, v)
}

// Priority extracts PRIORITY, or 0 if absent.
func (msg *Message) Priority() uint32 {
	if attr := msg.Get(AttrPriority); attr != nil && len(attr.Value) == 4 {
		return binary.BigEndian.Uint32(attr.Value)
	}
	return 0
}

// AddUseCandidate installs the zero-length USE-CANDIDATE flag attribute.
func (msg *Message) AddUseCandidate() {
	msg.AddAttribute(AttrUseCandidate, nil)
}

// HasUseCandidate reports whether USE-CANDIDATE is present.
func (msg *Message) HasUseCandidate() bool {
	return msg.Get(AttrUseCandidate) != nil
}

// AddControlling installs ICE-CONTROLLING with the given tiebreaker.
func (msg *Message) AddControlling(tiebreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tiebreaker)
	msg.AddAttribute(AttrIceControlling, v)
}

// AddControlled installs ICE-CONTROLLED with the given tiebreaker.
func (msg *Message) AddControlled(tiebreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tiebreaker)
	msg.AddAttribute(AttrIceControlled, v)
}

// ControllingTiebreaker returns the ICE-CONTROLLING tiebreaker and true if
// present.
func (msg *Message) ControllingTiebreaker() (uint64, bool) {
	if attr := msg.Get(AttrIceControlling); attr != nil && len(attr.Value) == 8 {
		return binary.BigEndian.Uint64(attr.Value), true
	}
	return 0, false
}

// ControlledTiebreaker returns the ICE-CONTROLLED tiebreaker and true if
// present.
func (msg *Message) ControlledTiebreaker() (uint64, bool) {
	if attr := msg.Get(AttrIceControlled); attr != nil && len(attr.Value) == 8 {
		return binary.BigEndian.Uint64(attr.Value), true
	}
	return 0, false
}

// ErrorClass enumerates the STUN error response codes this spec surfaces.
type ErrorClass int

const (
	ErrBadRequest     ErrorClass = 400
	ErrUnauthorized   ErrorClass = 401
	ErrStaleNonce     ErrorClass = 438
	ErrRoleConflict   ErrorClass = 487
)

// AddErrorCode installs ERROR-CODE with the given class and a short reason
// phrase.
func (msg *Message) AddErrorCode(code ErrorClass, reason string) {
	v := make([]byte, 4+len(reason))
	v[2] = byte(code / 100)
	v[3] = byte(code % 100)
	copy(v[4:], reason)
	msg.AddAttribute(AttrErrorCode, v)
}

// ErrorCode extracts the ERROR-CODE class, or 0 if absent.
func (msg *Message) ErrorCode() ErrorClass {
	attr := msg.Get(AttrErrorCode)
	if attr == nil || len(attr.Value) < 4 {
		return 0
	}
	return ErrorClass(int(attr.Value[2])*100 + int(attr.Value[3]))
}
