package stun

import "encoding/binary"

// Accessors for the RUDP channel-open attribute set: channel
// number, sequence number, minimum RTT, lifetime, and opaque channel info.

func (msg *Message) addChannelNumber(n uint16) {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, n)
	msg.AddAttribute(AttrChannelNumber, v)
}

// ChannelNumber extracts CHANNEL-NUMBER, or (0, false) if absent.
func (msg *Message) ChannelNumber() (uint16, bool) {
	if attr := msg.Get(AttrChannelNumber); attr != nil && len(attr.Value) == 2 {
		return binary.BigEndian.Uint16(attr.Value), true
	}
	return 0, false
}

func (msg *Message) addSequenceNumber(n uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, n)
	msg.AddAttribute(AttrSequenceNumber, v)
}

// SequenceNumber extracts SEQUENCE-NUMBER, or (0, false) if absent.
func (msg *Message) SequenceNumber() (uint64, bool) {
	if attr := msg.Get(AttrSequenceNumber); attr != nil && len(attr.Value) == 8 {
		return binary.BigEndian.Uint64(attr.Value), true
	}
	return 0, false
}

func (msg *Message) addMinimumRTT(ms uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, ms)
	msg.AddAttribute(AttrMinimumRTT, v)
}

// MinimumRTT extracts MINIMUM-RTT in milliseconds, or (0, false) if absent.
func (msg *Message) MinimumRTT() (uint32, bool) {
	if attr := msg.Get(AttrMinimumRTT); attr != nil && len(attr.Value) == 4 {
		return binary.BigEndian.Uint32(attr.Value), true
	}
	return 0, false
}

func (msg *Message) addLifetime(sec uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, sec)
	msg.AddAttribute(AttrLifetime, v)
}

// Lifetime extracts LIFETIME in seconds, or (0, false) if absent.
func (msg *Message) Lifetime() (uint32, bool) {
	if attr := msg.Get(AttrLifetime); attr != nil && len(attr.Value) == 4 {
		return binary.BigEndian.Uint32(attr.Value), true
	}
	return 0, false
}

// ChannelInfo extracts the opaque CHANNEL-INFO string, or "" if absent.
func (msg *Message) ChannelInfo() string {
	if attr := msg.Get(AttrChannelInfo); attr != nil {
		return string(attr.Value)
	}
	return ""
}

// AddACKRequestID installs ACK-REQUEST-ID, used by the RUDP
// external-ACK-now handshake.
func (msg *Message) AddACKRequestID(id uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, id)
	msg.AddAttribute(AttrACKRequestID, v)
}

// ACKRequestID extracts ACK-REQUEST-ID, or (0, false) if absent.
func (msg *Message) ACKRequestID() (uint64, bool) {
	if attr := msg.Get(AttrACKRequestID); attr != nil && len(attr.Value) == 8 {
		return binary.BigEndian.Uint64(attr.Value), true
	}
	return 0, false
}
