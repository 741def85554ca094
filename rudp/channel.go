// Package rudp models one reliable channel multiplexed over an already
// connected ICE route: the ChannelOpen/ChannelRefresh/ChannelClose STUN
// handshake, a pending-send buffer for bytes written before the channel
// is Connected, and the glue between that handshake and an injected
// reliable-stream implementation that does the actual retransmission,
// ordering, and congestion control (out of scope here; see
// `_examples/original_source/.../services_RUDPChannel.h`'s IRUDPChannelStream
// split, which this package's Stream interface generalizes).
package rudp

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/sudoconf/icertc/internal/logging"
	"github.com/sudoconf/icertc/internal/sched"
	"github.com/sudoconf/icertc/internal/stun"
)

var log = logging.DefaultLogger.WithTag("rudpchan")

// State is a Channel's lifecycle stage.
type State int

const (
	Connecting State = iota
	Connected
	ShuttingDown
	Shutdown
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ShuttingDown:
		return "shutting down"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Direction identifies which half of a full-duplex channel
// shutdownDirection affects.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionSend
	DirectionReceive
	DirectionBoth
)

// Transport is the subset of ice.Session a Channel sends through. Both
// methods are satisfied by *ice.Session already; rudp never imports ice,
// keeping the two packages decoupled the way a connected ICE route and
// the channels riding over it are decoupled in the design this follows.
type Transport interface {
	SendSTUN(msg *stun.Message) bool
	SendPacket(data []byte) bool
}

// StreamState is the injected reliable stream's own lifecycle, propagated
// into the owning Channel's state (a stream-Shutdown forces channel-Shutdown).
type StreamState int

const (
	StreamConnected StreamState = iota
	StreamShuttingDown
	StreamShutdown
)

// Stream is the reliable-stream engine a Channel is the packet I/O for:
// ordering, retransmission, and congestion control live entirely inside
// an implementation of this interface, injected rather than built here
// (see package doc and spec.md's Non-goals on congestion control).
type Stream interface {
	// Send buffers or transmits application bytes; bufferedNow reports the
	// byte count still queued inside the stream after this call. The
	// channel does not read it: ShuttingDown's "wait until flushed" check
	// uses State().
	Send(data []byte) (accepted bool, bufferedNow int)
	Receive(buf []byte) int
	ReceiveSizeAvailable() int

	// HandlePacket feeds one inbound RUDP-wrapped datagram (already
	// stripped of the channel-number discriminator) into the stream.
	HandlePacket(data []byte)

	Shutdown()
	ShutdownDirection(dir Direction)
	State() StreamState
}

// Sink receives channel-level notifications, mirroring ice.Sink's role
// for a Session.
type Sink interface {
	StateChanged(state State)
	WriteReady()
}

// Config holds the per-channel Open/Refresh parameters.
type Config struct {
	MinimumRTTMs uint32
	LifetimeSec  uint32

	// RefreshFraction of LifetimeSec between ChannelRefresh attempts;
	// 0 defaults to 0.5 (refresh at the handshake's own half-life).
	RefreshFraction float64

	// OpenSchedule drives the Open, Refresh and External-ACK STUN
	// transactions and CloseSchedule the Close transaction, independent of
	// the schedule the session uses for its connectivity checks, so a
	// caller can make channel setup fail fast without changing every
	// connectivity-check transaction in the session.
	OpenSchedule  stun.Schedule
	CloseSchedule stun.Schedule
}

// DefaultConfig returns sensible channel-open defaults.
func DefaultConfig() Config {
	return Config{
		MinimumRTTMs:    100,
		LifetimeSec:     60,
		RefreshFraction: 0.5,
		OpenSchedule:    stun.DefaultSchedule(),
		CloseSchedule:   stun.DefaultSchedule(),
	}
}

// Channel is one reliable stream multiplexed over a parent ICE session's
// nominated route. All mutable state lives behind loop; HandleSTUN and
// HandleRUDP are called by whatever demultiplexes the parent session's
// inbound traffic by channel number (the session itself stays ignorant of
// rudp, see Transport).
type Channel struct {
	loop      *sched.Loop
	transport Transport
	stream    Stream
	cfg       Config
	sink      Sink

	incoming bool

	state          State
	shutdownReason ChannelErrorCode

	localUFrag, localPassword   string
	remoteUFrag, remotePassword string

	realm, nonce string

	incomingChannelNumber uint16
	outgoingChannelNumber uint16

	localSequenceNumber  uint64
	remoteSequenceNumber uint64

	localChannelInfo  string
	remoteChannelInfo string

	openRequest     *stun.Requester
	refreshRequest  *stun.Requester
	shutdownRequest *stun.Requester

	priorRequestTimedOut bool // skip the ChannelClose exchange if true: see maybeFinishShutdown

	shutdownDirection Direction

	refreshTimerID sched.TimerID

	lastSentData     time.Time
	lastReceivedData time.Time

	nextACKRequestID uint64
	outstandingACKs  map[uint64]*stun.Requester

	pendingSends [][]byte
}

// NewOutgoing starts an ICE-session-originated channel: it immediately
// issues the ChannelOpen request and sits in Connecting until the
// response arrives. It owns its own message loop, started here.
func NewOutgoing(
	transport Transport,
	stream Stream,
	cfg Config,
	localUFrag, localPassword, remoteUFrag, remotePassword string,
	channelNumber uint16,
	localSequenceNumber uint64,
	localChannelInfo string,
	sink Sink,
) *Channel {
	c := newChannel(transport, stream, cfg, localUFrag, localPassword, remoteUFrag, remotePassword, sink)
	c.incoming = false
	c.incomingChannelNumber = channelNumber
	c.localSequenceNumber = localSequenceNumber
	c.localChannelInfo = localChannelInfo
	go c.loop.Run()
	c.loop.Post(c.sendOpenRequest)
	return c
}

// NewIncoming adopts a freshly-received ChannelOpen request synchronously:
// the caller (the session's channel-number demultiplexer) still owes the
// peer a response, which is returned here rather than sent, mirroring
// `createForListener`'s `STUNPacketPtr &outResponse` out-parameter.
func NewIncoming(
	transport Transport,
	stream Stream,
	cfg Config,
	localUFrag, localPassword, remoteUFrag, remotePassword string,
	incomingChannelNumber uint16,
	openRequest *stun.Message,
	localChannelInfo string,
	sink Sink,
) (*Channel, *stun.Message) {
	c := newChannel(transport, stream, cfg, localUFrag, localPassword, remoteUFrag, remotePassword, sink)
	c.incoming = true
	c.incomingChannelNumber = incomingChannelNumber
	c.localChannelInfo = localChannelInfo
	c.state = Connected

	if remote, ok := openRequest.ChannelNumber(); ok {
		c.outgoingChannelNumber = remote
	}
	if seq, ok := openRequest.SequenceNumber(); ok {
		c.remoteSequenceNumber = seq
	}
	c.remoteChannelInfo = openRequest.ChannelInfo()

	resp := stun.New(stun.SuccessResponse, stun.ChannelOpen, openRequest.TransactionID)
	var number [2]byte
	binary.BigEndian.PutUint16(number[:], incomingChannelNumber)
	resp.AddAttribute(stun.AttrChannelNumber, number[:])
	if localChannelInfo != "" {
		resp.AddAttribute(stun.AttrChannelInfo, []byte(localChannelInfo))
	}
	resp.AddUsername(remoteUFrag + ":" + localUFrag)
	resp.AddMessageIntegrity(localPassword)
	resp.AddFingerprint()

	go c.loop.Run()
	c.loop.Post(c.startRefreshTimer)
	return c, resp
}

func newChannel(
	transport Transport,
	stream Stream,
	cfg Config,
	localUFrag, localPassword, remoteUFrag, remotePassword string,
	sink Sink,
) *Channel {
	if cfg.RefreshFraction <= 0 {
		cfg.RefreshFraction = 0.5
	}
	return &Channel{
		loop:             sched.NewLoop(),
		transport:        transport,
		stream:           stream,
		cfg:              cfg,
		sink:             sink,
		state:            Connecting,
		localUFrag:       localUFrag,
		localPassword:    localPassword,
		remoteUFrag:      remoteUFrag,
		remotePassword:   remotePassword,
		outstandingACKs:  make(map[uint64]*stun.Requester),
		lastSentData:     time.Now(),
		lastReceivedData: time.Now(),
	}
}

func (c *Channel) sendOpenRequest() {
	req := stun.NewChannelOpenRequest(c.incomingChannelNumber, c.localSequenceNumber, c.cfg.MinimumRTTMs, c.cfg.LifetimeSec, c.localChannelInfo)
	c.fillCredentials(req)
	c.openRequest = stun.NewRequester(c.loop, c.cfg.OpenSchedule, nil, req, c.sendViaTransport, c.handleOpenResult)
	c.openRequest.Start()
}

func (c *Channel) fillCredentials(msg *stun.Message) {
	msg.AddUsername(c.remoteUFrag + ":" + c.localUFrag)
	if c.nonce != "" {
		msg.AddRealm(c.realm)
		msg.AddNonce(c.nonce)
	}
	msg.AddMessageIntegrity(c.remotePassword)
	msg.AddFingerprint()
}

// sendViaTransport adapts a *stun.Requester's destination-taking send
// signature to Transport.SendSTUN, which always targets the parent
// session's single nominated route: a Channel has no destination of its
// own to speak of, so dest is always nil here.
func (c *Channel) sendViaTransport(_ net.Addr, msg *stun.Message) error {
	if !c.transport.SendSTUN(msg) {
		return errNotSent
	}
	return nil
}

func (c *Channel) handleOpenResult(resp *stun.Message, err error) {
	if err != nil {
		c.priorRequestTimedOut = true
		c.setShutdownReason(ErrOpenTimedOut)
		c.shutdownFromTimeout()
		return
	}

	if resp.Class == stun.ErrorResponse && resp.ErrorCode() == stun.ErrStaleNonce {
		c.realm = resp.Realm()
		c.nonce = resp.Nonce()
		c.sendOpenRequest()
		return
	}

	if remote, ok := resp.ChannelNumber(); ok {
		c.outgoingChannelNumber = remote
	}
	if seq, ok := resp.SequenceNumber(); ok {
		c.remoteSequenceNumber = seq
	}
	c.remoteChannelInfo = resp.ChannelInfo()

	c.setState(Connected)
	c.startRefreshTimer()
	c.flushPending()
}

func (c *Channel) startRefreshTimer() {
	if c.cfg.LifetimeSec == 0 {
		return
	}
	interval := time.Duration(float64(c.cfg.LifetimeSec)*c.cfg.RefreshFraction) * time.Second
	c.refreshTimerID = c.loop.Every(interval, c.sendRefreshRequest)
}

func (c *Channel) sendRefreshRequest() {
	if c.state != Connected {
		return
	}
	req := stun.NewChannelRefreshRequest(c.incomingChannelNumber, c.cfg.LifetimeSec)
	c.fillCredentials(req)
	c.refreshRequest = stun.NewRequester(c.loop, c.cfg.OpenSchedule, nil, req, c.sendViaTransport, c.handleRefreshResult)
	c.refreshRequest.Start()
}

func (c *Channel) handleRefreshResult(resp *stun.Message, err error) {
	if err != nil {
		c.setShutdownReason(ErrRefreshTimedOut)
		c.shutdownFromTimeout()
		return
	}
	if resp.Class == stun.ErrorResponse && resp.ErrorCode() == stun.ErrStaleNonce {
		c.realm = resp.Realm()
		c.nonce = resp.Nonce()
		c.sendRefreshRequest()
	}
}

// Send writes application bytes. Before Connected they're buffered;
// after ShuttingDown in the send direction it refuses.
func (c *Channel) Send(data []byte) bool {
	result := make(chan bool, 1)
	c.loop.Post(func() {
		if c.state == ShuttingDown || c.state == Shutdown {
			if c.shutdownDirection == DirectionSend || c.shutdownDirection == DirectionBoth {
				result <- false
				return
			}
		}
		if c.state != Connected {
			c.pendingSends = append(c.pendingSends, append([]byte(nil), data...))
			result <- true
			return
		}
		accepted, _ := c.stream.Send(data)
		if accepted {
			c.lastSentData = time.Now()
		}
		result <- accepted
	})
	return <-result
}

func (c *Channel) flushPending() {
	for _, data := range c.pendingSends {
		c.stream.Send(data)
	}
	c.pendingSends = nil
}

// Receive copies up to len(buf) bytes from the stream; returns the number
// copied.
func (c *Channel) Receive(buf []byte) int {
	result := make(chan int, 1)
	c.loop.Post(func() { result <- c.stream.Receive(buf) })
	return <-result
}

// ReceiveSizeAvailable reports how many bytes are ready for Receive.
func (c *Channel) ReceiveSizeAvailable() int {
	result := make(chan int, 1)
	c.loop.Post(func() { result <- c.stream.ReceiveSizeAvailable() })
	return <-result
}

// HandleSTUN processes a ChannelRefresh or ChannelClose request/response
// addressed to this channel (ChannelOpen is handled by NewIncoming/the
// outgoing open requester, not here). Returns whether the message was
// this channel's.
func (c *Channel) HandleSTUN(msg *stun.Message, raw []byte, localFrag, remoteFrag string) (*stun.Message, bool) {
	result := make(chan struct {
		resp     *stun.Message
		consumed bool
	}, 1)
	c.loop.Post(func() {
		if localFrag != c.localUFrag || remoteFrag != c.remoteUFrag {
			result <- struct {
				resp     *stun.Message
				consumed bool
			}{nil, false}
			return
		}
		resp, consumed := c.handleSTUNLocked(msg, raw)
		result <- struct {
			resp     *stun.Message
			consumed bool
		}{resp, consumed}
	})
	r := <-result
	return r.resp, r.consumed
}

func (c *Channel) handleSTUNLocked(msg *stun.Message, raw []byte) (*stun.Message, bool) {
	switch msg.Class {
	case stun.Request:
		switch msg.Method {
		case stun.ChannelRefresh:
			if err := stun.VerifyMessageIntegrity(raw, c.localPassword); err != nil {
				return stun.NewBindingErrorResponse(msg.TransactionID, stun.ErrUnauthorized, "bad integrity", c.localPassword), true
			}
			resp := stun.New(stun.SuccessResponse, stun.ChannelRefresh, msg.TransactionID)
			resp.AddMessageIntegrity(c.localPassword)
			resp.AddFingerprint()
			return resp, true
		case stun.ChannelClose:
			if err := stun.VerifyMessageIntegrity(raw, c.localPassword); err != nil {
				return stun.NewBindingErrorResponse(msg.TransactionID, stun.ErrUnauthorized, "bad integrity", c.localPassword), true
			}
			resp := stun.New(stun.SuccessResponse, stun.ChannelClose, msg.TransactionID)
			resp.AddMessageIntegrity(c.localPassword)
			resp.AddFingerprint()
			c.setShutdownReason(ErrRemoteClosed)
			c.forceShutdown()
			return resp, true
		}
	case stun.SuccessResponse, stun.ErrorResponse:
		for _, r := range []*stun.Requester{c.openRequest, c.refreshRequest, c.shutdownRequest} {
			if r != nil && r.TransactionID() == msg.TransactionID {
				r.HandleResponse(msg)
				return nil, true
			}
		}
		for id, r := range c.outstandingACKs {
			if r.TransactionID() == msg.TransactionID {
				r.HandleResponse(msg)
				delete(c.outstandingACKs, id)
				return nil, true
			}
		}
	}
	return nil, false
}

// HandleRUDP feeds one inbound data-plane datagram (channel-number prefix
// already stripped by the caller) into the stream.
func (c *Channel) HandleRUDP(data []byte) {
	c.loop.Post(func() {
		c.lastReceivedData = time.Now()
		c.stream.HandlePacket(data)
	})
}

// NotifyStreamSendPacket is how the injected Stream hands the channel a
// wire-ready packet to transmit: wrap with the channel discriminator and
// hand to the parent session. Safe to call from any goroutine, including
// from Stream.Send while this channel's loop is running it: the send is
// queued on the loop and the call does not wait for it, so the result
// reports that the packet was queued, not whether the parent accepted it.
func (c *Channel) NotifyStreamSendPacket(packet []byte) bool {
	c.loop.Post(func() {
		framed := FrameData(c.outgoingChannelNumber, packet)
		if c.transport.SendPacket(framed) {
			c.lastSentData = time.Now()
		}
	})
	return true
}

// NotifyStreamSendExternalACKNow implements the External-ACK-now
// handshake: a success response to the synthesized request carries the
// delivery guarantee the stream asked for.
func (c *Channel) NotifyStreamSendExternalACKNow(guaranteeDelivery bool) uint64 {
	if !guaranteeDelivery {
		return 0
	}
	result := make(chan uint64, 1)
	c.loop.Post(func() {
		c.nextACKRequestID++
		id := c.nextACKRequestID

		req := stun.NewBindingRequest()
		req.AddACKRequestID(id)
		c.fillCredentials(req)

		r := stun.NewRequester(c.loop, c.cfg.OpenSchedule, nil, req, c.sendViaTransport, func(resp *stun.Message, err error) {
			delete(c.outstandingACKs, id)
		})
		c.outstandingACKs[id] = r
		r.Start()
		result <- id
	})
	return <-result
}

// Shutdown gracefully closes the channel: if data is still outstanding it
// waits for the stream to flush, then exchanges ChannelClose (skipped if a
// prior request already timed out, since the peer is presumed gone).
func (c *Channel) Shutdown() {
	c.loop.Post(func() {
		if c.state == Shutdown {
			return
		}
		c.shutdownDirection = DirectionBoth
		c.setState(ShuttingDown)
		c.stream.Shutdown()
		c.maybeFinishShutdown()
	})
}

// NotifyStreamStateChanged is how the injected Stream reports its own
// lifecycle transitions (in particular reaching StreamShutdown once
// flushed), since a flush the channel asked for via Shutdown typically
// completes asynchronously on the stream's own schedule. Safe to call
// from any goroutine.
func (c *Channel) NotifyStreamStateChanged(state StreamState) {
	c.loop.Post(func() {
		if state == StreamShutdown {
			c.maybeFinishShutdown()
		}
	})
}

func (c *Channel) maybeFinishShutdown() {
	if c.state != ShuttingDown {
		return
	}
	if c.shutdownRequest != nil {
		return // close exchange already underway
	}
	if c.stream.State() != StreamShutdown {
		return
	}
	if c.priorRequestTimedOut {
		c.forceShutdown()
		return
	}
	req := stun.NewChannelCloseRequest(c.incomingChannelNumber)
	c.fillCredentials(req)
	c.shutdownRequest = stun.NewRequester(c.loop, c.cfg.CloseSchedule, nil, req, c.sendViaTransport, func(resp *stun.Message, err error) {
		if err != nil {
			c.priorRequestTimedOut = true
		}
		c.forceShutdown()
	})
	c.shutdownRequest.Start()
}

// ShutdownDirection half-closes send, receive, or both.
func (c *Channel) ShutdownDirection(dir Direction) {
	c.loop.Post(func() {
		c.shutdownDirection = dir
		c.stream.ShutdownDirection(dir)
	})
}

// shutdownFromTimeout forces immediate Shutdown without the ChannelClose
// exchange (e.g. the channel-open transaction itself timed out).
func (c *Channel) shutdownFromTimeout() {
	c.loop.Post(c.forceShutdown)
}

func (c *Channel) forceShutdown() {
	log.Info("channel %d shutting down: %s", c.incomingChannelNumber, c.shutdownReason)
	c.shutdownDirection = DirectionBoth
	if c.refreshTimerID != 0 {
		c.loop.Cancel(c.refreshTimerID)
		c.refreshTimerID = 0
	}
	if c.openRequest != nil {
		c.openRequest.Cancel()
	}
	if c.shutdownRequest != nil {
		c.shutdownRequest.Cancel()
	}
	for _, r := range c.outstandingACKs {
		r.Cancel()
	}
	c.setState(Shutdown)
}

func (c *Channel) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	log.Debug("channel %d -> %s", c.incomingChannelNumber, s)
	if c.sink != nil {
		c.sink.StateChanged(s)
	}
}

func (c *Channel) setShutdownReason(r ChannelErrorCode) {
	if c.shutdownReason == ErrNone {
		c.shutdownReason = r
	}
}

// State reports the channel's current lifecycle stage.
func (c *Channel) State() State {
	result := make(chan State, 1)
	c.loop.Post(func() { result <- c.state })
	return <-result
}

// IncomingChannelNumber is the channel number this side expects inbound
// RUDP-wrapped data to be tagged with. Fixed at construction, safe to
// read without going through loop.
func (c *Channel) IncomingChannelNumber() uint16 {
	return c.incomingChannelNumber
}

// OutgoingChannelNumber is the channel number this side tags its own
// outbound RUDP-wrapped data with; zero until the Open handshake
// completes.
func (c *Channel) OutgoingChannelNumber() uint16 {
	result := make(chan uint16, 1)
	c.loop.Post(func() { result <- c.outgoingChannelNumber })
	return <-result
}
