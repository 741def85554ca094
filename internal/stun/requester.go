package stun

import (
	"net"
	"time"

	"github.com/sudoconf/icertc/internal/sched"
)

// RequesterState is the lifecycle of an outstanding request, as a
// generalization of the ad hoc time.AfterFunc retransmit loop a connectivity
// check needs.
type RequesterState int

const (
	Idle RequesterState = iota
	Sending
	Awaiting
	Succeeded
	Failed
)

func (s RequesterState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Awaiting:
		return "awaiting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Schedule is the retransmission timetable RFC 5389 §7.2.1 describes:
// retransmit with an exponentially backed-off interval starting at RTO, up
// to Rc times, then give up Rm*RTO after the first send if nothing has
// arrived by then.
type Schedule struct {
	RTO time.Duration
	Rc  int
	Rm  int
}

// DefaultSchedule is the RFC 5389 §7.2.1 recommended schedule: RTO=500ms,
// Rc=7, Rm=16. The timeout falls at 16*RTO (8s after the first send), so
// only the retransmissions at 0.5s, 1.5s, 3.5s and 7.5s fire before it.
func DefaultSchedule() Schedule {
	return Schedule{RTO: 500 * time.Millisecond, Rc: 7, Rm: 16}
}

// SingleShotSchedule sends once and times out after d with no
// retransmission, for callers (e.g. ICE liveness checks) that want a
// bounded probe rather than the full RFC 5389 retry ladder.
func SingleShotSchedule(d time.Duration) Schedule {
	return Schedule{RTO: d, Rc: 0, Rm: 1}
}

// retransmitOffsets returns the cumulative offsets (from the first send) at
// which a retransmission should fire.
func (s Schedule) retransmitOffsets() []time.Duration {
	offsets := make([]time.Duration, 0, s.Rc)
	interval := s.RTO
	var cumulative time.Duration
	for i := 0; i < s.Rc; i++ {
		cumulative += interval
		offsets = append(offsets, cumulative)
		interval *= 2
	}
	return offsets
}

// timeout returns the offset (from the first send) at which the requester
// gives up entirely.
func (s Schedule) timeout() time.Duration {
	return s.RTO * time.Duration(s.Rm)
}

// Requester drives a single request through Idle -> Sending -> Awaiting ->
// (Succeeded|Failed), retransmitting on the Schedule until a matching
// response arrives or the final timeout elapses. It owns no goroutine of
// its own: all its timers are posted through a *sched.Loop, so its
// callbacks run serialized with everything else on that loop (the same
// message pump that dispatches inbound packets for the owning session or
// channel).
type Requester struct {
	loop     *sched.Loop
	schedule Schedule

	dest    net.Addr
	request *Message

	send     func(dest net.Addr, msg *Message) error
	onResult func(resp *Message, err error)

	state     RequesterState
	timerIDs  []sched.TimerID
	startedAt time.Time
}

// NewRequester creates a Requester bound to loop. Call Start to begin
// sending; onResult is invoked at most once, from loop, with the matching
// response (err == nil) or a non-nil error once the schedule is exhausted
// or a send fails. A canceled request never invokes it.
func NewRequester(loop *sched.Loop, schedule Schedule, dest net.Addr, request *Message, send func(net.Addr, *Message) error, onResult func(*Message, error)) *Requester {
	return &Requester{
		loop:     loop,
		schedule: schedule,
		dest:     dest,
		request:  request,
		send:     send,
		onResult: onResult,
		state:    Idle,
	}
}

// TransactionID is the transaction this requester is tracking; callers use
// it to route inbound responses back to HandleResponse.
func (r *Requester) TransactionID() TransactionID {
	return r.request.TransactionID
}

// Start transitions Idle -> Sending, fires the first send, and schedules
// the retransmit ladder. Must be called from the owning loop.
func (r *Requester) Start() {
	if r.state != Idle {
		return
	}
	r.startedAt = time.Now()
	r.state = Sending
	r.transmit()
	if r.state != Sending {
		// The first send failed and finish has already reported it.
		return
	}

	for _, offset := range r.schedule.retransmitOffsets() {
		offset := offset
		id := r.loop.After(offset, func() { r.retransmit(offset) })
		r.timerIDs = append(r.timerIDs, id)
	}

	timeoutID := r.loop.After(r.schedule.timeout(), r.giveUp)
	r.timerIDs = append(r.timerIDs, timeoutID)
	r.state = Awaiting
}

func (r *Requester) transmit() {
	if err := r.send(r.dest, r.request); err != nil {
		r.finish(nil, err)
	}
}

func (r *Requester) retransmit(offset time.Duration) {
	if r.state != Awaiting {
		return
	}
	r.transmit()
}

func (r *Requester) giveUp() {
	if r.state != Awaiting {
		return
	}
	r.finish(nil, ErrRequestTimedOut)
}

// HandleResponse delivers a response whose transaction ID the caller has
// already matched to this requester. Returns true if the requester
// consumed it (i.e. it was still outstanding); false if the requester had
// already finished and the response should be treated as a stray duplicate.
// Must be called from the owning loop.
func (r *Requester) HandleResponse(resp *Message) bool {
	if r.state != Awaiting {
		return false
	}
	r.finish(resp, nil)
	return true
}

// RetryRequestNow collapses any remaining wait and retransmits immediately.
// Used when a cheaper external signal (e.g. an inbound request arriving on
// the same pair) suggests the network path just became viable. Must be called from
// the owning loop.
func (r *Requester) RetryRequestNow() {
	if r.state != Awaiting {
		return
	}
	r.transmit()
}

// Cancel aborts the requester without invoking onResult. Safe to call from
// any goroutine; the actual teardown runs on the owning loop.
func (r *Requester) Cancel() {
	r.loop.Post(func() {
		if r.state == Succeeded || r.state == Failed {
			return
		}
		r.cancelTimers()
		r.state = Failed
	})
}

func (r *Requester) finish(resp *Message, err error) {
	r.cancelTimers()
	if err != nil {
		r.state = Failed
	} else {
		r.state = Succeeded
	}
	r.onResult(resp, err)
}

func (r *Requester) cancelTimers() {
	for _, id := range r.timerIDs {
		r.loop.Cancel(id)
	}
	r.timerIDs = nil
}

// State reports the requester's current lifecycle state.
func (r *Requester) State() RequesterState {
	return r.state
}
