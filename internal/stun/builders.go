package stun

import "net"

// NewBindingRequest builds an unsigned Binding request. Callers finish it
// with AddAttribute/AddPriority/AddControlling/AddMessageIntegrity/
// AddFingerprint as the profile requires.
func NewBindingRequest() *Message {
	return New(Request, Binding, TransactionID{})
}

// NewBindingIndication builds a STUN Binding indication (keep-alive). If
// remoteUFrag is non-empty the indication carries USERNAME+MESSAGE-INTEGRITY
// like any other ICE message; a server-only session (no remote fragment to
// sign with) omits both and sends a bare RFC 5389 indication.
func NewBindingIndication(remoteUFrag, localUFrag, remotePassword string) *Message {
	msg := New(Indication, Binding, TransactionID{})
	if remoteUFrag != "" {
		msg.AddUsername(remoteUFrag + ":" + localUFrag)
		msg.AddMessageIntegrity(remotePassword)
	}
	msg.AddFingerprint()
	return msg
}

// NewBindingSuccessResponse builds a success response to a Binding request,
// carrying the mapped address, and signs it with localPassword if non-empty.
func NewBindingSuccessResponse(tid TransactionID, mapped net.Addr, localPassword string) *Message {
	msg := New(SuccessResponse, Binding, tid)
	msg.SetXorMappedAddress(mapped)
	if localPassword != "" {
		msg.AddMessageIntegrity(localPassword)
	}
	msg.AddFingerprint()
	return msg
}

// NewBindingErrorResponse builds an error response to a Binding request.
func NewBindingErrorResponse(tid TransactionID, code ErrorClass, reason, localPassword string) *Message {
	msg := New(ErrorResponse, Binding, tid)
	msg.AddErrorCode(code, reason)
	if localPassword != "" {
		msg.AddMessageIntegrity(localPassword)
	}
	msg.AddFingerprint()
	return msg
}

// NewChannelOpenRequest builds the RUDP ChannelOpen request.
func NewChannelOpenRequest(channelNumber uint16, sequenceNumber uint64, minimumRTTMs uint32, lifetimeSec uint32, channelInfo string) *Message {
	msg := New(Request, ChannelOpen, TransactionID{})
	addChannelAttributes(msg, channelNumber, sequenceNumber, minimumRTTMs, lifetimeSec, channelInfo)
	return msg
}

// NewChannelRefreshRequest builds the RUDP ChannelRefresh request.
func NewChannelRefreshRequest(channelNumber uint16, lifetimeSec uint32) *Message {
	msg := New(Request, ChannelRefresh, TransactionID{})
	msg.addChannelNumber(channelNumber)
	msg.addLifetime(lifetimeSec)
	return msg
}

// NewChannelCloseRequest builds the RUDP ChannelClose request.
func NewChannelCloseRequest(channelNumber uint16) *Message {
	msg := New(Request, ChannelClose, TransactionID{})
	msg.addChannelNumber(channelNumber)
	return msg
}

func addChannelAttributes(msg *Message, channelNumber uint16, sequenceNumber uint64, minimumRTTMs uint32, lifetimeSec uint32, channelInfo string) {
	msg.addChannelNumber(channelNumber)
	msg.addSequenceNumber(sequenceNumber)
	msg.addMinimumRTT(minimumRTTMs)
	msg.addLifetime(lifetimeSec)
	if channelInfo != "" {
		msg.AddAttribute(AttrChannelInfo, []byte(channelInfo))
	}
}
