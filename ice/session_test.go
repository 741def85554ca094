package ice

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudoconf/icertc/internal/socket"
)

type recordingSink struct {
	events chan Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan Event, 256)}
}

func (s *recordingSink) Deliver(e Event) SinkResult {
	select {
	case s.events <- e:
	default:
	}
	return SinkOK
}

func (s *recordingSink) waitForState(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-s.events:
			if e.Kind == EventStateChanged && e.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func (s *recordingSink) waitForPacket(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-s.events:
			if e.Kind == EventReceivedPacket {
				return e.Packet
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a data packet")
		}
	}
}

// pump is the test harness's demultiplexer: in production this role is
// played by whatever owns the shared socket (e.g. an internal/mux-style
// dispatcher built on socket.Router), but a test with exactly one session
// per endpoint can just hand every inbound datagram straight to it.
func pump(ep *socket.Endpoint, s *Session, localFrag, remoteFrag string) {
	buf := make([]byte, 2048)
	for {
		n, viaLocal, source, err := ep.ReadFrom(buf)
		if err != nil {
			return
		}
		udpSource, ok := source.(*net.UDPAddr)
		if !ok {
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		if !s.HandleSTUNPacket(viaLocal, UDP, udpSource, data, localFrag, remoteFrag) {
			s.HandlePacket(viaLocal, UDP, udpSource, data)
		}
	}
}

type harness struct {
	bus                *socket.Bus
	epA, epB           *socket.Endpoint
	sessionA, sessionB *Session
	sinkA, sinkB       *recordingSink
}

func newHarness(t *testing.T, roleA, roleB Role, resolverA, resolverB uint64) *harness {
	t.Helper()
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 20000}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 20001}

	bus := socket.NewBus()
	epA, err := bus.NewEndpoint(addrA)
	require.NoError(t, err)
	epB, err := bus.NewEndpoint(addrB)
	require.NoError(t, err)

	candA := &Candidate{Address: addrA, Kind: Local, Transport: UDP, Priority: 100}
	candB := &Candidate{Address: addrB, Kind: Local, Transport: UDP, Priority: 100}

	sinkA, sinkB := newRecordingSink(), newRecordingSink()
	cfg := DefaultConfig()

	sessionA := NewSession(cfg, epA, socket.NewRouter(), 1, []*Candidate{candA}, "ufragA", "pwdA", "ufragB", "pwdB", roleA, resolverA, sinkA)
	sessionB := NewSession(cfg, epB, socket.NewRouter(), 1, []*Candidate{candB}, "ufragB", "pwdB", "ufragA", "pwdA", roleB, resolverB, sinkB)

	go pump(epA, sessionA, "ufragA", "ufragB")
	go pump(epB, sessionB, "ufragB", "ufragA")

	sessionA.UpdateRemoteCandidates([]*Candidate{candB})
	sessionB.UpdateRemoteCandidates([]*Candidate{candA})

	h := &harness{bus: bus, epA: epA, epB: epB, sessionA: sessionA, sessionB: sessionB, sinkA: sinkA, sinkB: sinkB}
	t.Cleanup(func() {
		sessionA.Close()
		sessionB.Close()
		epA.Close()
		epB.Close()
	})
	return h
}

func TestSessionHappyPathNominates(t *testing.T) {
	h := newHarness(t, Controlling, Controlled, 0x1, 0x2)

	h.sinkA.waitForState(t, Nominated, 5*time.Second)
	h.sinkB.waitForState(t, Nominated, 5*time.Second)

	require.True(t, h.sessionA.SendPacket([]byte("hello")))
	got := h.sinkB.waitForPacket(t, 2*time.Second)
	require.Equal(t, []byte("hello"), got)
}

func TestSessionRoleConflictResolvesThenNominates(t *testing.T) {
	// Both start controlling; A's resolver (0x1) is lower than B's (0x2),
	// so A is expected to be the one that flips, per §8 scenario 2.
	h := newHarness(t, Controlling, Controlling, 0x1, 0x2)

	h.sinkA.waitForState(t, Nominated, 5*time.Second)
	h.sinkB.waitForState(t, Nominated, 5*time.Second)
}
