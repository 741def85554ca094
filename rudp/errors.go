package rudp

import "fmt"

// ChannelErrorCode enumerates the reasons a Channel can shut down.
type ChannelErrorCode int

const (
	ErrNone ChannelErrorCode = iota
	ErrLocalClosed
	ErrRemoteClosed
	ErrOpenTimedOut
	ErrRefreshTimedOut
	ErrCloseTimedOut
	ErrStreamGone
	ErrTransportSendFailed
)

func (c ChannelErrorCode) String() string {
	switch c {
	case ErrNone:
		return "none"
	case ErrLocalClosed:
		return "local closed"
	case ErrRemoteClosed:
		return "remote closed"
	case ErrOpenTimedOut:
		return "open timed out"
	case ErrRefreshTimedOut:
		return "refresh timed out"
	case ErrCloseTimedOut:
		return "close timed out"
	case ErrStreamGone:
		return "stream gone"
	case ErrTransportSendFailed:
		return "transport send failed"
	default:
		return "unknown"
	}
}

// ChannelError is the sticky first-cause error a Channel carries into
// Shutdown.
type ChannelError struct {
	Code ChannelErrorCode
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rudp: %s", e.Code)
}

// errNotSent is handed back to a *stun.Requester when the parent
// transport declined a send (e.g. the owning session isn't Nominated
// right now); the requester treats it like any other transmit failure
// and finishes with it as the transaction's result, with no further
// retransmissions.
var errNotSent = &ChannelError{Code: ErrTransportSendFailed}
