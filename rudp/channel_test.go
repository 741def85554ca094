package rudp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudoconf/icertc/internal/stun"
)

// fakeStream is a trivial Stream that transmits every Send immediately
// (no buffering, no retransmission, no reordering) and shuts down as soon
// as asked: real production code injects an actual reliable-stream engine,
// but exercising the channel's own handshake/shutdown wiring doesn't need
// one.
type fakeStream struct {
	mu       sync.Mutex
	channel  *Channel
	received [][]byte
	state    StreamState
}

func (s *fakeStream) attach(c *Channel) { s.channel = c }

func (s *fakeStream) Send(data []byte) (bool, int) {
	s.channel.NotifyStreamSendPacket(append([]byte(nil), data...))
	return true, 0
}

func (s *fakeStream) Receive(buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.received) == 0 {
		return 0
	}
	n := copy(buf, s.received[0])
	s.received = s.received[1:]
	return n
}

func (s *fakeStream) ReceiveSizeAvailable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.received) == 0 {
		return 0
	}
	return len(s.received[0])
}

func (s *fakeStream) HandlePacket(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, append([]byte(nil), data...))
}

func (s *fakeStream) Shutdown() {
	s.mu.Lock()
	s.state = StreamShutdown
	s.mu.Unlock()
	s.channel.NotifyStreamStateChanged(StreamShutdown)
}

func (s *fakeStream) ShutdownDirection(Direction) {}

func (s *fakeStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// side is one peer's Transport implementation. Delivery to the other side
// always hops a goroutine, so a response never recurses into the sender's
// own loop while it's still running the closure that sent the request
// (the same hazard a real socket avoids just by being a different
// process).
type side struct {
	mu                      sync.Mutex
	other                   *side
	channel                 *Channel
	localUFrag, remoteUFrag string
	newIncoming             func(open *stun.Message) (*Channel, *stun.Message)
	sentPackets             chan []byte
}

func newSide(localUFrag, remoteUFrag string) *side {
	return &side{localUFrag: localUFrag, remoteUFrag: remoteUFrag, sentPackets: make(chan []byte, 16)}
}

func (s *side) SendSTUN(msg *stun.Message) bool {
	go func() {
		resp, consumed := s.other.receive(msg)
		if consumed && resp != nil {
			s.deliverResponse(resp)
		}
	}()
	return true
}

func (s *side) SendPacket(data []byte) bool {
	packet := append([]byte(nil), data...)
	s.sentPackets <- packet
	go func() {
		s.other.mu.Lock()
		ch := s.other.channel
		s.other.mu.Unlock()
		if _, payload, ok := ParseFrame(packet); ok && ch != nil {
			ch.HandleRUDP(payload)
		}
	}()
	return true
}

// receive is called (on a fresh goroutine, see SendSTUN) on the recipient
// side: it either adopts the first inbound ChannelOpen or routes to an
// already-adopted channel.
func (s *side) receive(msg *stun.Message) (*stun.Message, bool) {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		if msg.Class != stun.Request || msg.Method != stun.ChannelOpen {
			return nil, false
		}
		adopted, resp := s.newIncoming(msg)
		s.mu.Lock()
		s.channel = adopted
		s.mu.Unlock()
		return resp, true
	}
	return ch.HandleSTUN(msg, msg.Bytes(), s.localUFrag, s.remoteUFrag)
}

func (s *side) deliverResponse(resp *stun.Message) {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	ch.HandleSTUN(resp, resp.Bytes(), s.localUFrag, s.remoteUFrag)
}

func newChannelPair(t *testing.T) (*side, *fakeStream, *side, *fakeStream) {
	t.Helper()
	return newChannelPairWithConfig(t, DefaultConfig())
}

func newChannelPairWithConfig(t *testing.T, cfg Config) (*side, *fakeStream, *side, *fakeStream) {
	t.Helper()
	a := newSide("ufragA", "ufragB")
	b := newSide("ufragB", "ufragA")
	a.other, b.other = b, a

	streamA := &fakeStream{}
	streamB := &fakeStream{}

	b.newIncoming = func(open *stun.Message) (*Channel, *stun.Message) {
		ch, resp := NewIncoming(b, streamB, cfg, "ufragB", "pwdB", "ufragA", "pwdA", 7, open, "info-b", nil)
		streamB.attach(ch)
		return ch, resp
	}

	channelA := NewOutgoing(a, streamA, cfg, "ufragA", "pwdA", "ufragB", "pwdB", 7, 1, "info-a", nil)
	streamA.attach(channelA)
	a.mu.Lock()
	a.channel = channelA
	a.mu.Unlock()

	return a, streamA, b, streamB
}

func waitForChannelState(t *testing.T, s *side, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		ch := s.channel
		s.mu.Unlock()
		if ch != nil && ch.State() == want {
			return
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for channel state %s", want)
		}
	}
}

func TestChannelOpenHandshakeConnects(t *testing.T) {
	a, _, b, _ := newChannelPair(t)

	waitForChannelState(t, a, Connected, 2*time.Second)
	waitForChannelState(t, b, Connected, 2*time.Second)

	require.Equal(t, uint16(7), a.channel.IncomingChannelNumber())
	require.Equal(t, uint16(7), a.channel.OutgoingChannelNumber())
}

func TestChannelSendBuffersUntilConnectedThenFlushes(t *testing.T) {
	a, _, b, _ := newChannelPair(t)

	require.True(t, a.channel.Send([]byte("hello")))

	waitForChannelState(t, a, Connected, 2*time.Second)
	waitForChannelState(t, b, Connected, 2*time.Second)

	deadline := time.After(2 * time.Second)
	for {
		if b.channel.ReceiveSizeAvailable() > 0 {
			break
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for data to arrive")
		}
	}

	buf := make([]byte, 32)
	n := b.channel.Receive(buf)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestChannelGracefulShutdown(t *testing.T) {
	a, _, b, _ := newChannelPair(t)
	waitForChannelState(t, a, Connected, 2*time.Second)
	waitForChannelState(t, b, Connected, 2*time.Second)

	a.channel.Shutdown()
	waitForChannelState(t, a, Shutdown, 2*time.Second)
	waitForChannelState(t, b, Shutdown, 2*time.Second)
}

// TestChannelSendRefusedAfterShutdown guards the ShuttingDown/Shutdown send
// gate: a graceful Shutdown must mark the send direction closed immediately,
// not just once the close handshake finishes, or writes after Shutdown would
// silently queue into pendingSends and never flush.
func TestChannelSendRefusedAfterShutdown(t *testing.T) {
	a, _, b, _ := newChannelPair(t)
	waitForChannelState(t, a, Connected, 2*time.Second)
	waitForChannelState(t, b, Connected, 2*time.Second)

	a.channel.Shutdown()
	waitForChannelState(t, a, Shutdown, 2*time.Second)

	require.False(t, a.channel.Send([]byte("too late")))
}

// TestChannelSendThenGracefulShutdownFlushesPending exercises a channel
// opened with lifetime=30s/minimumRTT=50ms: a 10 KiB payload written before
// the handshake completes must be buffered in pendingSends, fully flushed
// once Connected, delivered in full to the peer, and pendingSends must stay
// empty through a subsequent graceful Shutdown.
func TestChannelSendThenGracefulShutdownFlushesPending(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LifetimeSec = 30
	cfg.MinimumRTTMs = 50

	a, _, b, _ := newChannelPairWithConfig(t, cfg)

	payload := make([]byte, 10*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.True(t, a.channel.Send(payload))

	waitForChannelState(t, a, Connected, 2*time.Second)
	waitForChannelState(t, b, Connected, 2*time.Second)

	var got []byte
	deadline := time.After(2 * time.Second)
	for len(got) < len(payload) {
		if n := b.channel.ReceiveSizeAvailable(); n > 0 {
			buf := make([]byte, n)
			got = append(got, buf[:b.channel.Receive(buf)]...)
			continue
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for all bytes to arrive")
		}
	}
	require.Equal(t, payload, got)
	require.Empty(t, a.channel.pendingSends)

	a.channel.Shutdown()
	waitForChannelState(t, a, Shutdown, 2*time.Second)
	waitForChannelState(t, b, Shutdown, 2*time.Second)

	require.Empty(t, a.channel.pendingSends)
}
