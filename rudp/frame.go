package rudp

import "encoding/binary"

// frameHeaderLen is the on-wire discriminator every data-plane RUDP
// packet carries ahead of the stream payload: a channel number, so one
// nominated route can multiplex many channels the way internal/mux's
// MatchFunc multiplexes protocols over one net.Conn.
const frameHeaderLen = 2

// FrameData prefixes payload with its destination channel number.
func FrameData(channelNumber uint16, payload []byte) []byte {
	framed := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint16(framed, channelNumber)
	copy(framed[frameHeaderLen:], payload)
	return framed
}

// ParseFrame splits a data-plane RUDP packet into its destination channel
// number and payload. ok is false if data is too short to carry a header.
func ParseFrame(data []byte) (channelNumber uint16, payload []byte, ok bool) {
	if len(data) < frameHeaderLen {
		return 0, nil, false
	}
	return binary.BigEndian.Uint16(data), data[frameHeaderLen:], true
}
