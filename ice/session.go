package ice

import (
	"net"
	"sync"
	"time"

	"github.com/sudoconf/icertc/internal/logging"
	"github.com/sudoconf/icertc/internal/sched"
	"github.com/sudoconf/icertc/internal/socket"
	"github.com/sudoconf/icertc/internal/stun"
)

var log = logging.DefaultLogger.WithTag("ice")

// Role is which side of the connectivity check drives nomination.
type Role int

const (
	Controlling Role = iota
	Controlled
)

func (r Role) String() string {
	if r == Controlling {
		return "controlling"
	}
	return "controlled"
}

// State is a Session's observable lifecycle stage.
type State int

const (
	Pending State = iota
	Prepared
	Searching
	Nominating
	Nominated
	Shutdown
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Prepared:
		return "prepared"
	case Searching:
		return "searching"
	case Nominating:
		return "nominating"
	case Nominated:
		return "nominated"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// assumedPeerReflexivePreference stands in for a local-preference value we
// have no real basis to compute for a candidate that arrived unannounced:
// see adoptPeerReflexiveCandidate.
const assumedPeerReflexivePreference = 65535

const backgroundingTickInterval = 1 * time.Second

// Session is one ICE connectivity-check engine, bound to a single remote
// party's credentials. All state lives behind loop; every exported method
// posts a closure and waits for it, so the type is safe to call from any
// goroutine despite being single-threaded internally (see
// `_examples/lanikai-alohartc/internal/ice/base.go`'s readLoop/transactionHandlers
// for the demux pattern this generalizes).
type Session struct {
	loop   *sched.Loop
	conn   socket.PacketConn
	router *socket.Router
	id     uint64
	cfg    Config
	sink   Sink

	role             Role
	conflictResolver uint64

	localUFrag, localPassword   string
	remoteUFrag, remotePassword string

	localCandidates  []*Candidate
	remoteCandidates []*Candidate
	pairs            []*CandidatePair
	nominated        *CandidatePair
	nominationTarget *CandidatePair

	state             State
	writeReadyLatched bool

	searchStartedAt time.Time
	lastActivity    time.Time
	lastDataSentAt  time.Time

	aliveCheckOutstanding *stun.Requester

	activateTimerID      sched.TimerID
	keepAliveTimerID      sched.TimerID
	expectingDataTimerID sched.TimerID
	backgroundingTimerID sched.TimerID
	stepTimerID          sched.TimerID

	errOnce sync.Once
	lastErr *SessionError
}

// NewSession creates a session for a single remote party, starts its loop,
// and arms the backgrounding timer (if configured). Local candidates must
// already be gathered; remote ones arrive via UpdateRemoteCandidates.
func NewSession(
	cfg Config,
	conn socket.PacketConn,
	router *socket.Router,
	id uint64,
	localCandidates []*Candidate,
	localUFrag, localPassword string,
	remoteUFrag, remotePassword string,
	role Role,
	conflictResolver uint64,
	sink Sink,
) *Session {
	s := &Session{
		loop:             sched.NewLoop(),
		conn:             conn,
		router:           router,
		id:               id,
		cfg:              cfg,
		sink:             sink,
		role:             role,
		conflictResolver: conflictResolver,
		localUFrag:       localUFrag,
		localPassword:    localPassword,
		remoteUFrag:      remoteUFrag,
		remotePassword:   remotePassword,
		localCandidates:  localCandidates,
		state:            Prepared,
		lastActivity:     time.Now(),
	}
	go s.loop.Run()

	s.stepTimerID = s.loop.Every(stepTickInterval, s.stepTick)
	if cfg.BackgroundingTimeout > 0 {
		s.backgroundingTimerID = s.loop.Every(backgroundingTickInterval, s.backgroundingTick)
	}
	return s
}

// UpdateRemoteCandidates replaces the remote candidate set and rebuilds
// the pair table. Per the resolved open question on rebuild triggering,
// this always rebuilds — even if the new list is value-equal to the old
// one — since a rebuild is also how a role flip re-derives pair priority.
func (s *Session) UpdateRemoteCandidates(remotes []*Candidate) {
	done := make(chan struct{})
	s.loop.Post(func() {
		s.updateRemoteCandidatesLocked(remotes)
		close(done)
	})
	<-done
}

func (s *Session) updateRemoteCandidatesLocked(remotes []*Candidate) {
	if s.state == Shutdown {
		return
	}
	for _, p := range s.pairs {
		if p.activeCheck != nil {
			p.activeCheck.Cancel()
			p.activeCheck = nil
		}
	}

	oldNominated := s.nominated
	s.remoteCandidates = remotes
	s.pairs = buildPairs(s.localCandidates, s.remoteCandidates, s.role, s.cfg.MaxCandidatePairs)
	s.nominated = nil
	s.nominationTarget = nil

	if oldNominated != nil {
		for _, p := range s.pairs {
			if p.Local == oldNominated.Local && sameUDPAddr(p.Remote.Address, oldNominated.Remote.Address) {
				p.Nominated = true
				p.ReceivedRequest = true
				p.ReceivedResponse = true
				p.State = Succeeded
				s.nominated = p
				break
			}
		}
	}

	if s.nominated != nil {
		s.router.Register(s.id, s.nominated.Remote.Address)
		s.setState(Nominated)
		s.stopActivateTimer()
		return
	}

	s.searchStartedAt = time.Now()
	s.setState(Searching)
	s.startActivateTimer()
}

func (s *Session) startActivateTimer() {
	if s.activateTimerID == 0 {
		s.activateTimerID = s.loop.Every(activateTickInterval, s.activateTick)
	}
}

func (s *Session) stopActivateTimer() {
	if s.activateTimerID != 0 {
		s.loop.Cancel(s.activateTimerID)
		s.activateTimerID = 0
	}
}

// activateTick fires roughly every 20ms while searching: it issues exactly
// one new connectivity check, for the highest-priority pair that has
// nothing outstanding yet.
func (s *Session) activateTick() {
	if s.state != Searching && s.state != Nominating {
		s.stopActivateTimer()
		return
	}
	for _, p := range s.pairs {
		if p.activeCheck == nil && !p.ReceivedResponse && !p.Failed {
			s.sendCheck(p, false)
			return
		}
	}
}

func (s *Session) sendCheck(pair *CandidatePair, useCandidate bool) {
	req := stun.NewBindingRequest()
	req.AddUsername(s.remoteUFrag + ":" + s.localUFrag)
	req.AddPriority(pair.Local.Priority)
	if s.role == Controlling {
		req.AddControlling(s.conflictResolver)
	} else {
		req.AddControlled(s.conflictResolver)
	}
	if useCandidate {
		req.AddUseCandidate()
	}
	req.AddMessageIntegrity(s.remotePassword)
	req.AddFingerprint()

	pair.State = InProgress
	pair.lastActivated = time.Now()

	requester := stun.NewRequester(s.loop, stun.DefaultSchedule(), pair.Remote.Address, req, s.sendViaConn, func(resp *stun.Message, err error) {
		s.handleCheckResult(pair, resp, err, useCandidate)
	})
	pair.activeCheck = requester
	requester.Start()
}

func (s *Session) sendViaConn(dest net.Addr, msg *stun.Message) error {
	s.lastDataSentAt = time.Now()
	_, err := s.conn.WriteTo(msg.Bytes(), dest)
	return err
}

func (s *Session) handleCheckResult(pair *CandidatePair, resp *stun.Message, err error, wasNomination bool) {
	pair.activeCheck = nil
	if err != nil {
		pair.Failed = true
		pair.State = Failed
		if wasNomination {
			s.nominationTarget = nil
			if s.state == Nominating {
				s.setState(Searching)
			}
		}
		return
	}

	pair.State = Succeeded
	pair.ReceivedResponse = true
	if pair.Remote.UFrag == "" {
		pair.ReceivedRequest = true
	}

	if wasNomination {
		pair.Nominated = true
		s.nominated = pair
		s.nominationTarget = nil
		s.router.Register(s.id, pair.Remote.Address)
		s.onNominated()
	}
}

func (s *Session) onNominated() {
	s.stopActivateTimer()
	s.setState(Nominated)
	s.startLivenessTimers()
	s.writeReadyLatched = true
	s.emit(Event{Kind: EventWriteReady})
	if s.nominated != nil {
		log.Info("nominated pair %s <-> %s", s.nominated.Local.Address, s.nominated.Remote.Address)
	}
}

// stepTick runs every 2s: nomination decisions and giveup logic while
// searching, independent of the 20ms activate cadence.
func (s *Session) stepTick() {
	if s.state == Shutdown {
		s.loop.Cancel(s.stepTimerID)
		return
	}
	switch s.state {
	case Searching, Nominating:
		s.evaluateNomination()
		s.evaluateGiveup()
	}
}

func (s *Session) evaluateNomination() {
	if s.role != Controlling || s.state != Searching {
		return
	}
	var bestValid *CandidatePair
	for _, p := range s.pairs {
		if p.ReceivedRequest && p.ReceivedResponse && !p.Failed {
			bestValid = p
			break // s.pairs is priority-sorted; first match is highest priority
		}
	}
	if bestValid == nil {
		return
	}

	isTop := len(s.pairs) > 0 && s.pairs[0] == bestValid
	topHasNoRemainingWork := isTop && bestValid.activeCheck == nil
	ranLongEnough := time.Since(s.searchStartedAt) > s.cfg.SearchGiveupIdealWindow

	if topHasNoRemainingWork || ranLongEnough {
		s.startNomination(bestValid)
	}
}

func (s *Session) startNomination(pair *CandidatePair) {
	s.setState(Nominating)
	s.nominationTarget = pair
	if pair.activeCheck != nil {
		pair.activeCheck.Cancel()
	}
	s.sendCheck(pair, true)
}

func (s *Session) evaluateGiveup() {
	if time.Since(s.searchStartedAt) < s.cfg.MaxWaitForActivation {
		return
	}
	var anyOutstanding, anyReceivedRequest, anyValid bool
	for _, p := range s.pairs {
		if p.activeCheck != nil {
			anyOutstanding = true
		}
		if p.ReceivedRequest {
			anyReceivedRequest = true
		}
		if p.ReceivedRequest && p.ReceivedResponse && !p.Failed {
			anyValid = true
		}
	}
	if anyValid {
		return
	}
	if !anyOutstanding || !anyReceivedRequest {
		s.setError(ErrCandidateSearchFailed, nil)
		s.shutdownLocked()
	}
}

// HandleSTUNPacket routes one inbound STUN message. localFrag/remoteFrag
// are whatever the caller already extracted (typically from USERNAME, or
// known a priori because the packet matched an established route) and are
// compared against this session's own credentials before anything else.
func (s *Session) HandleSTUNPacket(viaLocal net.IP, transport Transport, source *net.UDPAddr, raw []byte, localFrag, remoteFrag string) bool {
	result := make(chan bool, 1)
	s.loop.Post(func() {
		if s.state == Shutdown {
			result <- false
			return
		}
		if localFrag != s.localUFrag || remoteFrag != s.remoteUFrag {
			result <- false
			return
		}
		msg, err := stun.Parse(raw)
		if err != nil || msg == nil {
			result <- false
			return
		}
		if msg.Method != stun.Binding {
			result <- s.emit(Event{Kind: EventReceivedSTUN, Message: msg, Raw: raw}) == SinkOK
			return
		}
		switch msg.Class {
		case stun.Request:
			result <- s.handleInboundBindingRequest(viaLocal, transport, source, raw, msg)
		case stun.SuccessResponse, stun.ErrorResponse:
			result <- s.handleInboundBindingResponse(raw, msg)
		case stun.Indication:
			s.lastActivity = time.Now()
			result <- true
		default:
			result <- false
		}
	})
	return <-result
}

func (s *Session) handleInboundBindingRequest(viaLocal net.IP, transport Transport, source *net.UDPAddr, raw []byte, msg *stun.Message) bool {
	if err := stun.VerifyMessageIntegrity(raw, s.localPassword); err != nil {
		resp := stun.NewBindingErrorResponse(msg.TransactionID, stun.ErrUnauthorized, "integrity check failed", s.localPassword)
		_, _ = s.conn.WriteTo(resp.Bytes(), source)
		return true
	}
	s.lastActivity = time.Now()

	pair := findPair(s.pairs, viaLocal, transport, source)
	if pair == nil {
		pair = s.adoptPeerReflexiveCandidate(viaLocal, transport, source)
	}

	flipped := false
	if remoteControlling, has := msg.ControllingTiebreaker(); has && s.role == Controlling {
		if s.conflictResolver < remoteControlling {
			s.flipRole()
			flipped = true
		} else {
			resp := stun.NewBindingErrorResponse(msg.TransactionID, stun.ErrRoleConflict, "role conflict", s.localPassword)
			_, _ = s.conn.WriteTo(resp.Bytes(), source)
			return true
		}
	} else if remoteControlled, has := msg.ControlledTiebreaker(); has && s.role == Controlled {
		if s.conflictResolver >= remoteControlled {
			s.flipRole()
			flipped = true
		} else {
			resp := stun.NewBindingErrorResponse(msg.TransactionID, stun.ErrRoleConflict, "role conflict", s.localPassword)
			_, _ = s.conn.WriteTo(resp.Bytes(), source)
			return true
		}
	}
	if flipped {
		// flipRole rebuilds the pair table; the old pointer (if any) no
		// longer lives in s.pairs.
		pair = findPair(s.pairs, viaLocal, transport, source)
	}

	resp := stun.NewBindingSuccessResponse(msg.TransactionID, source, s.localPassword)
	_, _ = s.conn.WriteTo(resp.Bytes(), source)

	if pair == nil {
		return true
	}

	pair.ReceivedRequest = true
	if pair.activeCheck != nil {
		pair.activeCheck.RetryRequestNow()
	}

	if msg.HasUseCandidate() && s.role == Controlled {
		pair.Nominated = true
		pair.ReceivedResponse = true
		s.nominated = pair
		s.router.Register(s.id, pair.Remote.Address)
		s.writeReadyLatched = false
		s.onNominated()
	}
	return true
}

// adoptPeerReflexiveCandidate synthesizes a new remote candidate for an
// unrecognized source per §4.2.3 step 2. The priority formula there names
// a "localPreference" we have no real signal for (the PRIORITY attribute
// on the inbound request describes the peer's view, not ours), so we use
// a fixed assumed preference — the same simplification
// `_examples/lanikai-alohartc/internal/ice/base.go`'s computePriority
// makes for a single-homed host.
func (s *Session) adoptPeerReflexiveCandidate(viaLocal net.IP, transport Transport, source *net.UDPAddr) *CandidatePair {
	if len(s.pairs) >= maxCandidatePairsHardCap {
		return nil
	}

	var local *Candidate
	for _, l := range s.localCandidates {
		if l.Transport == transport && l.matchesViaLocal(viaLocal) {
			local = l
			break
		}
	}
	if local == nil {
		return nil
	}

	priority := uint32(PeerReflexive)<<24 | uint32(assumedPeerReflexivePreference)<<8 | 256
	remote := &Candidate{
		Address:   source,
		Kind:      PeerReflexive,
		Transport: transport,
		Priority:  priority,
		UFrag:     s.remoteUFrag,
		Password:  s.remotePassword,
	}
	s.remoteCandidates = append(s.remoteCandidates, remote)

	pair := newCandidatePair(local, remote)
	s.pairs = append(s.pairs, pair)
	return pair
}

func (s *Session) flipRole() {
	if s.role == Controlling {
		s.role = Controlled
	} else {
		s.role = Controlling
	}
	log.Info("role conflict: switching to %s", s.role)
	s.updateRemoteCandidatesLocked(s.remoteCandidates)
}

func (s *Session) handleInboundBindingResponse(raw []byte, msg *stun.Message) bool {
	pair := s.findPairByTransaction(msg.TransactionID)
	if pair == nil || pair.activeCheck == nil {
		return false
	}

	if msg.Class == stun.ErrorResponse && msg.ErrorCode() == stun.ErrRoleConflict {
		if err := stun.VerifyMessageIntegrity(raw, s.remotePassword); err == nil {
			s.flipRole()
		}
		return true
	}

	if err := stun.VerifyMessageIntegrity(raw, s.remotePassword); err != nil {
		return true // integrity gate: drop silently, pair state unchanged
	}

	s.lastActivity = time.Now()
	pair.activeCheck.HandleResponse(msg)
	return true
}

func (s *Session) findPairByTransaction(tid stun.TransactionID) *CandidatePair {
	for _, p := range s.pairs {
		if p.activeCheck != nil && p.activeCheck.TransactionID() == tid {
			return p
		}
	}
	return nil
}

// HandlePacket delivers one data-plane datagram, iff it matches the
// nominated pair exactly.
func (s *Session) HandlePacket(viaLocal net.IP, transport Transport, source *net.UDPAddr, data []byte) bool {
	result := make(chan bool, 1)
	s.loop.Post(func() {
		if s.state != Nominated || s.nominated == nil {
			result <- false
			return
		}
		if !s.nominated.Local.matchesViaLocal(viaLocal) || s.nominated.Local.Transport != transport || !sameUDPAddr(s.nominated.Remote.Address, source) {
			result <- false
			return
		}
		s.lastActivity = time.Now()
		if s.aliveCheckOutstanding != nil {
			s.aliveCheckOutstanding.Cancel()
			s.aliveCheckOutstanding = nil
		}
		result <- s.emit(Event{Kind: EventReceivedPacket, Packet: data}) == SinkOK
	})
	return <-result
}

// SendPacket writes bytes over the nominated pair. Valid only while
// Nominated.
func (s *Session) SendPacket(data []byte) bool {
	result := make(chan bool, 1)
	s.loop.Post(func() {
		if s.state != Nominated || s.nominated == nil {
			result <- false
			return
		}
		_, err := s.conn.WriteTo(data, s.nominated.Remote.Address)
		if err == nil {
			s.lastActivity = time.Now()
			s.lastDataSentAt = time.Now()
			s.writeReadyLatched = false
		}
		result <- err == nil
	})
	return <-result
}

// NotifyWriteReady tells the session the socket can accept more bytes; it
// re-emits EventWriteReady at most once per latch (see SendPacket).
func (s *Session) NotifyWriteReady() {
	s.loop.Post(func() {
		if s.state == Nominated && !s.writeReadyLatched {
			s.writeReadyLatched = true
			s.emit(Event{Kind: EventWriteReady})
		}
	})
}

// SendSTUN transmits a pre-built non-Binding STUN message (used by the
// RUDP channel-open/refresh/close handshake) over the nominated route.
func (s *Session) SendSTUN(msg *stun.Message) bool {
	result := make(chan bool, 1)
	s.loop.Post(func() {
		if s.state != Nominated || s.nominated == nil {
			result <- false
			return
		}
		_, err := s.conn.WriteTo(msg.Bytes(), s.nominated.Remote.Address)
		result <- err == nil
	})
	return <-result
}

func (s *Session) startLivenessTimers() {
	if s.cfg.KeepAliveInterval > 0 {
		s.keepAliveTimerID = s.loop.Every(s.cfg.KeepAliveInterval, s.keepAliveTick)
	}
	if s.cfg.ExpectSTUNOrDataWithin > 0 {
		s.expectingDataTimerID = s.loop.Every(s.cfg.ExpectSTUNOrDataWithin, s.expectingDataTick)
	}
}

func (s *Session) stopLivenessTimers() {
	if s.keepAliveTimerID != 0 {
		s.loop.Cancel(s.keepAliveTimerID)
		s.keepAliveTimerID = 0
	}
	if s.expectingDataTimerID != 0 {
		s.loop.Cancel(s.expectingDataTimerID)
		s.expectingDataTimerID = 0
	}
}

func (s *Session) keepAliveTick() {
	if s.state != Nominated {
		return
	}
	if time.Since(s.lastDataSentAt) < s.cfg.KeepAliveInterval {
		return
	}
	ind := stun.NewBindingIndication(s.remoteUFrag, s.localUFrag, s.remotePassword)
	_, _ = s.conn.WriteTo(ind.Bytes(), s.nominated.Remote.Address)
	s.lastDataSentAt = time.Now()
}

func (s *Session) expectingDataTick() {
	if s.state != Nominated || s.aliveCheckOutstanding != nil {
		return
	}
	if time.Since(s.lastActivity) < s.cfg.ExpectSTUNOrDataWithin {
		return
	}

	req := stun.NewBindingRequest()
	req.AddUsername(s.remoteUFrag + ":" + s.localUFrag)
	req.AddPriority(s.nominated.Local.Priority)
	if s.role == Controlling {
		req.AddControlling(s.conflictResolver)
	} else {
		req.AddControlled(s.conflictResolver)
	}
	req.AddMessageIntegrity(s.remotePassword)
	req.AddFingerprint()

	timeout := s.cfg.AliveCheckTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	r := stun.NewRequester(s.loop, stun.SingleShotSchedule(timeout), s.nominated.Remote.Address, req, s.sendViaConn, s.handleAliveCheckResult)
	s.aliveCheckOutstanding = r
	r.Start()
}

func (s *Session) handleAliveCheckResult(resp *stun.Message, err error) {
	s.aliveCheckOutstanding = nil
	if err != nil {
		s.setError(ErrTimeout, err)
		s.shutdownLocked()
		return
	}
	s.lastActivity = time.Now()
}

func (s *Session) backgroundingTick() {
	if s.state == Shutdown {
		return
	}
	if time.Since(s.lastActivity) >= s.cfg.BackgroundingTimeout {
		s.setError(ErrBackgroundingTimeout, nil)
		s.shutdownLocked()
	}
}

// SetKeepAliveProperties replaces the liveness configuration in place,
// restarting the affected timers if the session is already nominated.
func (s *Session) SetKeepAliveProperties(sendInterval, expectWithin, aliveCheckTimeout, backgroundingTimeout time.Duration) {
	done := make(chan struct{})
	s.loop.Post(func() {
		s.cfg.KeepAliveInterval = sendInterval
		s.cfg.ExpectSTUNOrDataWithin = expectWithin
		s.cfg.AliveCheckTimeout = aliveCheckTimeout
		s.cfg.BackgroundingTimeout = backgroundingTimeout
		if s.state == Nominated {
			s.stopLivenessTimers()
			s.startLivenessTimers()
		}
		close(done)
	})
	<-done
}

// Close tears the session down: stops timers, cancels outstanding STUN
// transactions, detaches the socket route, and transitions to Shutdown.
// Idempotent.
func (s *Session) Close() {
	done := make(chan struct{})
	s.loop.Post(func() {
		if s.state != Shutdown {
			s.setError(ErrClosed, nil)
			s.shutdownLocked()
		}
		close(done)
	})
	<-done
	s.loop.Close()
}

func (s *Session) shutdownLocked() {
	if s.state == Shutdown {
		return
	}
	if s.lastErr != nil {
		log.Debug("shutting down: %v", s.lastErr)
	}
	s.stopActivateTimer()
	s.stopLivenessTimers()
	if s.backgroundingTimerID != 0 {
		s.loop.Cancel(s.backgroundingTimerID)
		s.backgroundingTimerID = 0
	}
	if s.stepTimerID != 0 {
		s.loop.Cancel(s.stepTimerID)
		s.stepTimerID = 0
	}
	for _, p := range s.pairs {
		if p.activeCheck != nil {
			p.activeCheck.Cancel()
			p.activeCheck = nil
		}
	}
	if s.aliveCheckOutstanding != nil {
		s.aliveCheckOutstanding.Cancel()
		s.aliveCheckOutstanding = nil
	}
	if s.nominated != nil {
		s.router.Deregister(s.id)
	}
	s.setState(Shutdown)
}

func (s *Session) setState(newState State) {
	if s.state == newState {
		return
	}
	s.state = newState
	s.emit(Event{Kind: EventStateChanged, State: newState})
}

func (s *Session) setError(code ErrorCode, cause error) {
	s.errOnce.Do(func() {
		s.lastErr = &SessionError{Code: code, Cause: cause}
	})
}

func (s *Session) emit(e Event) SinkResult {
	if s.sink == nil {
		return SinkOK
	}
	res := s.sink.Deliver(e)
	if res == SinkGone {
		s.setError(ErrDelegateGone, nil)
		s.shutdownLocked()
	}
	return res
}

// State reports the session's current observable state.
func (s *Session) State() State {
	result := make(chan State, 1)
	s.loop.Post(func() { result <- s.state })
	return <-result
}

// NominatedPair reports the session's active route, or nil if not yet
// Nominated.
func (s *Session) NominatedPair() *CandidatePair {
	result := make(chan *CandidatePair, 1)
	s.loop.Post(func() { result <- s.nominated })
	return <-result
}

// Err reports the sticky first-cause shutdown error, or nil if the session
// hasn't shut down (or shut down cleanly, which doesn't happen today: even
// an explicit Close records ErrClosed).
func (s *Session) Err() *SessionError {
	result := make(chan *SessionError, 1)
	s.loop.Post(func() { result <- s.lastErr })
	return <-result
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
