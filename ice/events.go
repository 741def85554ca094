package ice

import "github.com/sudoconf/icertc/internal/stun"

// EventKind tags the notifications a Session delivers to its Sink, per
// SPEC_FULL.md §10 "dynamic dispatch to delegates": a tagged variant
// consumed by the owner, replacing a virtual-call delegate interface.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventWriteReady
	EventReceivedPacket
	EventReceivedSTUN
)

// Event is one notification from a Session to its Sink.
type Event struct {
	Kind    EventKind
	State   State         // valid for EventStateChanged
	Packet  []byte        // valid for EventReceivedPacket
	Message *stun.Message // valid for EventReceivedSTUN (non-ICE methods only)
	Raw     []byte        // valid for EventReceivedSTUN: the undecoded datagram, needed to verify MESSAGE-INTEGRITY/FINGERPRINT
}

// SinkResult tells the Session whether its Sink is still alive.
type SinkResult int

const (
	SinkOK SinkResult = iota
	SinkGone
)

// Sink receives Session notifications. A Sink returning SinkGone is
// treated exactly like an ErrDelegateGone shutdown cause: the Session
// tears itself down rather than continuing to deliver to a dead sink.
type Sink interface {
	Deliver(Event) SinkResult
}
