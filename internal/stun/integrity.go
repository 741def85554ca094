package stun

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // RFC 5389 mandates HMAC-SHA1 for short-term credentials
	"encoding/binary"
	"hash/crc32"

	"golang.org/x/xerrors"
)

var zeroPad = make([]byte, 20)

// fingerprintXor is applied to the FINGERPRINT CRC-32 so that it cannot be
// confused with a framed protocol that also happens to carry a CRC-32 (RFC
// 5389 §15.5).
const fingerprintXor = 0x5354554e

// AddMessageIntegrity computes and appends a short-term-credential
// MESSAGE-INTEGRITY attribute (RFC 5389 §15.4): HMAC-SHA1 over the message
// as serialized up to (but not including) this attribute, with the length
// field temporarily set as though the attribute were already present.
func (msg *Message) AddMessageIntegrity(password string) {
	attr := msg.AddAttribute(AttrMessageIntegrity, zeroPad[:20])

	serialized := msg.Bytes()
	beforeAttr := len(serialized) - attr.numBytes()

	sig := hmac.New(sha1.New, []byte(password))
	sig.Write(serialized[:beforeAttr])
	copy(attr.Value, sig.Sum(nil))
}

// VerifyMessageIntegrity recomputes MESSAGE-INTEGRITY over the original
// wire bytes (not the parsed Message, since re-serialization can reorder or
// drop unknown attributes) and compares in constant time.
func VerifyMessageIntegrity(raw []byte, password string) error {
	msg, err := Parse(raw)
	if err != nil {
		return xerrors.Errorf("stun: parse for integrity check: %w", err)
	}
	if msg == nil {
		return xerrors.New("stun: not a STUN message")
	}
	attr := msg.Get(AttrMessageIntegrity)
	if attr == nil {
		return xerrors.New("stun: no MESSAGE-INTEGRITY attribute")
	}
	if len(attr.Value) != 20 {
		return xerrors.New("stun: malformed MESSAGE-INTEGRITY attribute")
	}

	// Locate the same byte range in `raw` as AddMessageIntegrity signed:
	// everything up to the start of the MESSAGE-INTEGRITY attribute, with
	// the header length field covering through the end of that attribute.
	// The wire length also counts anything appended after it (FINGERPRINT),
	// so the length field is rewritten in a copy before hashing.
	offset, ok := attributeOffset(raw, AttrMessageIntegrity)
	if !ok {
		return xerrors.New("stun: MESSAGE-INTEGRITY attribute not found in raw message")
	}

	signed := append([]byte(nil), raw[:offset]...)
	binary.BigEndian.PutUint16(signed[2:4], uint16(offset+4+20-headerLength))

	sig := hmac.New(sha1.New, []byte(password))
	sig.Write(signed)
	expected := sig.Sum(nil)

	if !hmac.Equal(expected, attr.Value) {
		return xerrors.New("stun: MESSAGE-INTEGRITY mismatch")
	}
	return nil
}

// attributeOffset returns the byte offset (from the start of the message)
// at which the attribute of the given type begins, by walking the wire
// format directly.
func attributeOffset(raw []byte, typ AttrType) (int, bool) {
	offset := headerLength
	for offset+4 <= len(raw) {
		t := AttrType(binary.BigEndian.Uint16(raw[offset : offset+2]))
		length := int(binary.BigEndian.Uint16(raw[offset+2 : offset+4]))
		if t == typ {
			return offset, true
		}
		offset += 4 + length + pad4(length)
	}
	return 0, false
}

// AddFingerprint appends a FINGERPRINT attribute (RFC 5389 §15.5): CRC-32
// of the message up to (but not including) this attribute, XORed with a
// fixed constant.
func (msg *Message) AddFingerprint() {
	attr := msg.AddAttribute(AttrFingerprint, zeroPad[:4])

	serialized := msg.Bytes()
	beforeAttr := len(serialized) - attr.numBytes()
	crc := crc32.ChecksumIEEE(serialized[:beforeAttr]) ^ fingerprintXor

	binary.BigEndian.PutUint32(attr.Value, crc)
}

// VerifyFingerprint checks the FINGERPRINT attribute against the raw wire
// bytes, if present. Returns false if no FINGERPRINT attribute exists (the
// caller decides whether that's acceptable).
func VerifyFingerprint(raw []byte) bool {
	offset, ok := attributeOffsetFromEnd(raw)
	if !ok {
		return false
	}
	expected := crc32.ChecksumIEEE(raw[:offset]) ^ fingerprintXor

	gotOffset, ok := attributeOffset(raw, AttrFingerprint)
	if !ok || gotOffset+8 > len(raw) {
		return false
	}
	got := binary.BigEndian.Uint32(raw[gotOffset+4 : gotOffset+8])
	return got == expected
}

// attributeOffsetFromEnd returns the offset of the FINGERPRINT attribute,
// which by convention must be the last attribute in the message.
func attributeOffsetFromEnd(raw []byte) (int, bool) {
	return attributeOffset(raw, AttrFingerprint)
}
