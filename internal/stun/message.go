// Package stun implements message framing per RFC 5389, the ICE connectivity
// check attribute extensions from RFC 5245, and the channel-open attribute
// set used by the RUDP handshake (see package rudp).
package stun

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/xerrors"

	"github.com/sudoconf/icertc/internal/logging"
)

var log = logging.DefaultLogger.WithTag("stun")

// Class is the 2-bit STUN message class.
type Class uint16

const (
	Request         Class = 0
	Indication      Class = 1
	SuccessResponse Class = 2
	ErrorResponse   Class = 3
)

func (c Class) String() string {
	switch c {
	case Request:
		return "request"
	case Indication:
		return "indication"
	case SuccessResponse:
		return "success response"
	case ErrorResponse:
		return "error response"
	default:
		return fmt.Sprintf("class(%#x)", uint16(c))
	}
}

// Method is the 12-bit STUN message method.
type Method uint16

const (
	// RFC 5389 Binding method.
	Binding Method = 0x001

	// Custom RUDP channel-handshake methods, chosen from the
	// vendor-specific method range (RFC 5389 §18.1 leaves 0x000-0x07F to
	// IETF Review; 0x080-0x0FF is reserved for future standards action,
	// but since these are never sent to a third party we use unoccupied
	// values rather than registering new IANA codepoints).
	ChannelOpen    Method = 0x0f0
	ChannelRefresh Method = 0x0f1
	ChannelClose   Method = 0x0f2
)

func (m Method) String() string {
	switch m {
	case Binding:
		return "Binding"
	case ChannelOpen:
		return "ChannelOpen"
	case ChannelRefresh:
		return "ChannelRefresh"
	case ChannelClose:
		return "ChannelClose"
	default:
		return fmt.Sprintf("method(%#x)", uint16(m))
	}
}

// TransactionID is the 96-bit STUN transaction identifier. It is a
// comparable value type, so callers match responses to requests with ==.
type TransactionID [12]byte

func (t TransactionID) String() string {
	return hex.EncodeToString(t[:])
}

// NewTransactionID generates a random transaction ID.
func NewTransactionID() TransactionID {
	var t TransactionID
	_, _ = rand.Read(t[:])
	return t
}

// Message is a parsed or in-construction STUN message.
type Message struct {
	Class         Class
	Method        Method
	TransactionID TransactionID

	// length, in bytes, of the attributes NOT including the 20-byte
	// header; maintained incrementally by AddAttribute so Bytes() doesn't
	// need to recompute it.
	length uint16

	Attributes []Attribute
}

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

var magicCookieBytes = [4]byte{0x21, 0x12, 0xA4, 0x42}

// New constructs an empty message of the given class and method, either
// with the supplied transaction ID or (if the zero value) a fresh random
// one.
func New(class Class, method Method, tid TransactionID) *Message {
	if tid == (TransactionID{}) {
		tid = NewTransactionID()
	}
	return &Message{Class: class, Method: method, TransactionID: tid}
}

// Parse decodes a STUN message from the wire. If data does not look like a
// STUN message at all it returns a nil message and ErrShortMessage or
// ErrNotSTUN (used by demultiplexers to tell STUN from the data plane); once
// the header has matched, a malformed attribute section yields an error
// wrapping ErrTruncatedAttribute.
func Parse(data []byte) (*Message, error) {
	if len(data) < headerLength {
		return nil, ErrShortMessage
	}

	messageType := binary.BigEndian.Uint16(data[0:2])
	if messageType>>14 != 0 {
		// Top two bits of a STUN message type are always zero.
		return nil, ErrNotSTUN
	}

	length := binary.BigEndian.Uint16(data[2:4])
	if length%4 != 0 {
		return nil, ErrNotSTUN
	}

	if binary.BigEndian.Uint32(data[4:8]) != magicCookie {
		return nil, ErrNotSTUN
	}

	if len(data) < headerLength+int(length) {
		return nil, xerrors.Errorf("stun: truncated message (want %d body bytes, have %d): %w", length, len(data)-headerLength, ErrTruncatedAttribute)
	}

	class, method := decomposeMessageType(messageType)
	msg := &Message{
		Class:  class,
		Method: method,
		length: length,
	}
	copy(msg.TransactionID[:], data[8:20])

	b := bytes.NewBuffer(data[headerLength : headerLength+int(length)])
	for b.Len() > 0 {
		attr, err := parseAttribute(b)
		if err != nil {
			return msg, xerrors.Errorf("stun: malformed attribute: %w: %v", ErrTruncatedAttribute, err)
		}
		msg.Attributes = append(msg.Attributes, attr)
	}
	return msg, nil
}

func composeMessageType(class Class, method Method) uint16 {
	c, m := uint16(class), uint16(method)
	t := (c<<7)&0x0100 | (c<<4)&0x0010
	t |= (m<<2)&0x3e00 | (m<<1)&0x00e0 | (m & 0x000f)
	return t
}

func decomposeMessageType(t uint16) (Class, Method) {
	class := (t&0x0100)>>7 | (t&0x0010)>>4
	method := (t&0x3e00)>>2 | (t&0x00e0)>>1 | (t & 0x000f)
	return Class(class), Method(method)
}

// AddAttribute appends a raw attribute and keeps the message length in sync.
func (msg *Message) AddAttribute(typ AttrType, value []byte) *Attribute {
	v := make([]byte, len(value))
	copy(v, value)
	attr := Attribute{Type: typ, Value: v}
	msg.Attributes = append(msg.Attributes, attr)
	msg.length += uint16(attr.numBytes())
	return &msg.Attributes[len(msg.Attributes)-1]
}

// Get returns the first attribute of the given type, or nil.
func (msg *Message) Get(typ AttrType) *Attribute {
	for i := range msg.Attributes {
		if msg.Attributes[i].Type == typ {
			return &msg.Attributes[i]
		}
	}
	return nil
}

// Bytes serializes the message, including MESSAGE-INTEGRITY/FINGERPRINT
// values already installed as attributes by AddMessageIntegrity /
// AddFingerprint.
func (msg *Message) Bytes() []byte {
	buf := make([]byte, headerLength+msg.length)

	messageType := composeMessageType(msg.Class, msg.Method)
	binary.BigEndian.PutUint16(buf[0:2], messageType)
	binary.BigEndian.PutUint16(buf[2:4], msg.length)
	binary.BigEndian.PutUint32(buf[4:8], magicCookie)
	copy(buf[8:20], msg.TransactionID[:])

	offset := headerLength
	for _, attr := range msg.Attributes {
		offset += writeAttribute(attr, buf[offset:])
	}
	return buf
}

func (msg *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s tid=%s", msg.Method, msg.Class, msg.TransactionID)
	for _, attr := range msg.Attributes {
		fmt.Fprintf(&b, " %s", attr.describe(msg.TransactionID))
	}
	return b.String()
}
