package ice

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudoconf/icertc/internal/socket"
)

// pumpDroppable is pump with an on/off switch: once dropped is non-zero,
// inbound datagrams are still read off the socket (so the sender never
// blocks) but discarded before reaching the session, simulating a peer that
// has gone silent rather than one whose socket errors outright.
func pumpDroppable(ep *socket.Endpoint, s *Session, localFrag, remoteFrag string, dropped *int32) {
	buf := make([]byte, 2048)
	for {
		n, viaLocal, source, err := ep.ReadFrom(buf)
		if err != nil {
			return
		}
		if atomic.LoadInt32(dropped) != 0 {
			continue
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

// TestSessionPeerReflexiveDiscovery simulates a NAT remap: A is told B lives
// at one address but B's checks actually arrive from another. A must
// synthesize a PeerReflexive remote candidate for the observed source and
// nominate it once it proves valid, per §4.2.3 step 2.
func TestSessionPeerReflexiveDiscovery(t *testing.T) {
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21300}
	addrBReal := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21301}
	addrBAnnounced := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21399}

	bus := socket.NewBus()
	epA, err := bus.NewEndpoint(addrA)
	require.NoError(t, err)
	epB, err := bus.NewEndpoint(addrBReal)
	require.NoError(t, err)
	defer epA.Close()
	defer epB.Close()

	candA := &Candidate{Address: addrA, Kind: Local, Transport: UDP, Priority: 200}
	candBReal := &Candidate{Address: addrBReal, Kind: Local, Transport: UDP, Priority: 100}
	candBAnnounced := &Candidate{Address: addrBAnnounced, Kind: Local, Transport: UDP, Priority: 100}

	cfg := DefaultConfig()
	cfg.SearchGiveupIdealWindow = 300 * time.Millisecond

	sinkA, sinkB := newRecordingSink(), newRecordingSink()
	sessionA := NewSession(cfg, epA, socket.NewRouter(), 1, []*Candidate{candA}, "ufragA", "pwdA", "ufragB", "pwdB", Controlling, 0x1, sinkA)
	sessionB := NewSession(cfg, epB, socket.NewRouter(), 1, []*Candidate{candBReal}, "ufragB", "pwdB", "ufragA", "pwdA", Controlled, 0x2, sinkB)
	t.Cleanup(func() {
		sessionA.Close()
		sessionB.Close()
	})

	go pump(epA, sessionA, "ufragA", "ufragB")
	go pump(epB, sessionB, "ufragB", "ufragA")

	// A is handed B's stale, pre-remap address; B correctly knows A's.
	sessionA.UpdateRemoteCandidates([]*Candidate{candBAnnounced})
	sessionB.UpdateRemoteCandidates([]*Candidate{candA})

	sinkA.waitForState(t, Nominated, 8*time.Second)

	pair := sessionA.NominatedPair()
	require.NotNil(t, pair)
	require.Equal(t, PeerReflexive, pair.Remote.Kind)
	require.Equal(t, addrBReal.String(), pair.Remote.Address.String())
}

// TestSessionLivenessLossShutsDown drops all further traffic into B after
// nomination and expects the session to notice within its configured
// expect/alive-check window and shut down with ErrTimeout.
func TestSessionLivenessLossShutsDown(t *testing.T) {
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21400}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21401}

	bus := socket.NewBus()
	epA, err := bus.NewEndpoint(addrA)
	require.NoError(t, err)
	epB, err := bus.NewEndpoint(addrB)
	require.NoError(t, err)
	defer epA.Close()
	defer epB.Close()

	candA := &Candidate{Address: addrA, Kind: Local, Transport: UDP, Priority: 100}
	candB := &Candidate{Address: addrB, Kind: Local, Transport: UDP, Priority: 100}

	cfg := DefaultConfig()
	cfg.KeepAliveInterval = 0
	cfg.ExpectSTUNOrDataWithin = 150 * time.Millisecond
	cfg.AliveCheckTimeout = 100 * time.Millisecond

	sinkA, sinkB := newRecordingSink(), newRecordingSink()
	sessionA := NewSession(cfg, epA, socket.NewRouter(), 1, []*Candidate{candA}, "ufragA", "pwdA", "ufragB", "pwdB", Controlling, 0x1, sinkA)
	sessionB := NewSession(cfg, epB, socket.NewRouter(), 1, []*Candidate{candB}, "ufragB", "pwdB", "ufragA", "pwdA", Controlled, 0x2, sinkB)
	t.Cleanup(func() {
		sessionA.Close()
		sessionB.Close()
	})

	var dropB int32
	go pump(epA, sessionA, "ufragA", "ufragB")
	go pumpDroppable(epB, sessionB, "ufragB", "ufragA", &dropB)

	sessionA.UpdateRemoteCandidates([]*Candidate{candB})
	sessionB.UpdateRemoteCandidates([]*Candidate{candA})

	sinkA.waitForState(t, Nominated, 5*time.Second)
	sinkB.waitForState(t, Nominated, 5*time.Second)

	atomic.StoreInt32(&dropB, 1)

	sinkA.waitForState(t, Shutdown, 3*time.Second)
	require.Equal(t, ErrTimeout, sessionA.Err().Code)
}

// TestSessionSearchExhaustionShutsDown gives a session only an unreachable
// remote candidate (no bus endpoint ever registered for it, so every check
// fails outright) and expects it to give up with ErrCandidateSearchFailed
// once MaxWaitForActivation elapses without a valid pair.
func TestSessionSearchExhaustionShutsDown(t *testing.T) {
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21500}
	unreachable := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 21599}

	bus := socket.NewBus()
	epA, err := bus.NewEndpoint(addrA)
	require.NoError(t, err)
	defer epA.Close()

	candA := &Candidate{Address: addrA, Kind: Local, Transport: UDP, Priority: 100}
	candUnreachable := &Candidate{Address: unreachable, Kind: Local, Transport: UDP, Priority: 100}

	cfg := DefaultConfig()
	cfg.MaxWaitForActivation = 150 * time.Millisecond

	sinkA := newRecordingSink()
	sessionA := NewSession(cfg, epA, socket.NewRouter(), 1, []*Candidate{candA}, "ufragA", "pwdA", "ufragB", "pwdB", Controlling, 0x1, sinkA)
	t.Cleanup(func() { sessionA.Close() })

	go pump(epA, sessionA, "ufragA", "ufragB")

	sessionA.UpdateRemoteCandidates([]*Candidate{candUnreachable})

	sinkA.waitForState(t, Shutdown, 5*time.Second)
	require.Equal(t, ErrCandidateSearchFailed, sessionA.Err().Code)
}
