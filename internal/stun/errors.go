package stun

import "golang.org/x/xerrors"

var (
	// ErrShortMessage is returned by Parse when the buffer is too small to
	// hold a STUN header.
	ErrShortMessage = xerrors.New("stun: message shorter than header")

	// ErrNotSTUN is returned by Parse when the buffer's leading bits don't
	// match the STUN magic cookie / type-field layout.
	ErrNotSTUN = xerrors.New("stun: not a STUN message")

	// ErrTruncatedAttribute is returned when an attribute's declared length
	// runs past the end of the message.
	ErrTruncatedAttribute = xerrors.New("stun: truncated attribute")

	// ErrRequesterClosed is returned by Requester methods called after
	// Cancel or a terminal callback has already run.
	ErrRequesterClosed = xerrors.New("stun: requester already finished")

	// ErrRequestTimedOut is delivered to a Requester's onResult callback
	// when the retry schedule is exhausted with no matching response.
	ErrRequestTimedOut = xerrors.New("stun: request timed out")
)
