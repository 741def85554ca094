package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"net"
	"os"
	"sync"

	flag "github.com/spf13/pflag"

	"github.com/sudoconf/icertc/ice"
	"github.com/sudoconf/icertc/internal/logging"
	"github.com/sudoconf/icertc/internal/socket"
	"github.com/sudoconf/icertc/internal/stun"
	"github.com/sudoconf/icertc/rudp"
)

var log = logging.DefaultLogger.WithTag("icesessiond")

// hostCandidatePriority follows the RFC 8445 §5.1.2.1 recommended formula
// for a single host candidate with one UDP component: type preference 126,
// local preference left at the maximum since this demo never gathers more
// than one candidate per side.
const hostCandidatePriority = (126 << 24) | (math.MaxUint16 << 8) | (256 - 1)

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	laddr, err := net.ResolveUDPAddr("udp", flagBind)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := socket.ListenUDP("udp", laddr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	localHello := hello{
		UFrag:    randomToken(6),
		Password: randomToken(18),
		Addr:     localAddr.String(),
	}

	var (
		remoteHello hello
		role        ice.Role
	)
	if flagConnect == "" {
		role = ice.Controlling
		remoteHello, err = listenAndExchange(flagListenPort, localHello)
	} else {
		role = ice.Controlled
		remoteHello, err = dialAndExchange(flagConnect, localHello)
	}
	if err != nil {
		log.Fatal(err)
	}

	remoteUDPAddr, err := net.ResolveUDPAddr("udp", remoteHello.Addr)
	if err != nil {
		log.Fatal(err)
	}

	local := &ice.Candidate{
		Address:   localAddr,
		Kind:      ice.Local,
		Transport: ice.UDP,
		Priority:  hostCandidatePriority,
		UFrag:     localHello.UFrag,
		Password:  localHello.Password,
	}
	remote := &ice.Candidate{
		Address:   remoteUDPAddr,
		Kind:      ice.Local,
		Transport: ice.UDP,
		Priority:  hostCandidatePriority,
		UFrag:     remoteHello.UFrag,
		Password:  remoteHello.Password,
	}

	router := socket.NewRouter()
	sink := &demoSink{
		localUFrag:    localHello.UFrag,
		remoteUFrag:   remoteHello.UFrag,
		localPassword: localHello.Password,
		remotePassword: remoteHello.Password,
		role:          role,
	}

	session := ice.NewSession(
		ice.DefaultConfig(),
		conn, router, 1,
		[]*ice.Candidate{local},
		localHello.UFrag, localHello.Password,
		remoteHello.UFrag, remoteHello.Password,
		role, randomConflictResolver(),
		sink,
	)
	defer session.Close()
	sink.session = session

	session.UpdateRemoteCandidates([]*ice.Candidate{remote})

	go readLoop(conn, session, localHello.UFrag, remoteHello.UFrag)
	go stdinLoop(sink)

	select {}
}

func randomConflictResolver() uint64 {
	buf := make([]byte, 8)
	rand.Read(buf)
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}

// readLoop pumps inbound datagrams to the session, mirroring
// `_examples/lanikai-alohartc/internal/ice/base.go`'s readLoop: every
// datagram is first offered to the session as a candidate STUN message,
// and only handed to the data path if that's declined.
func readLoop(conn *socket.UDPConn, session *ice.Session, localUFrag, remoteUFrag string) {
	buf := make([]byte, 2048)
	for {
		n, localIP, remote, err := conn.ReadFrom(buf)
		if err != nil {
			log.Warn("read failed: %v", err)
			return
		}
		data := append([]byte(nil), buf[:n]...)
		remoteUDP, ok := remote.(*net.UDPAddr)
		if !ok {
			continue
		}

		if session.HandleSTUNPacket(localIP, ice.UDP, remoteUDP, data, localUFrag, remoteUFrag) {
			continue
		}
		session.HandlePacket(localIP, ice.UDP, remoteUDP, data)
	}
}

// stdinLoop feeds typed lines into the demo channel once it exists.
func stdinLoop(sink *demoSink) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		ch := sink.channel()
		if ch == nil {
			log.Warn("no channel yet, dropping: %s", line)
			continue
		}
		if !ch.Send([]byte(line)) {
			log.Warn("send refused")
		}
	}
}

// demoSink bridges Session notifications to a single RUDP channel: once
// nominated, the controlling side opens the channel; the controlled side
// waits for the inbound ChannelOpen request the ice.Session forwards as an
// EventReceivedSTUN.
type demoSink struct {
	mu             sync.Mutex
	session        *ice.Session
	ch             *rudp.Channel
	stream         *echoStream
	localUFrag     string
	remoteUFrag    string
	localPassword  string
	remotePassword string
	role           ice.Role
}

func (s *demoSink) channel() *rudp.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *demoSink) Deliver(e ice.Event) ice.SinkResult {
	ch := s.channel()
	switch e.Kind {
	case ice.EventStateChanged:
		log.Info("session state: %s", e.State)
		if e.State == ice.Nominated && ch == nil && s.role == ice.Controlling {
			s.openChannel()
		}
	case ice.EventReceivedSTUN:
		if ch == nil && e.Message.Class == stun.Request && e.Message.Method == stun.ChannelOpen {
			s.acceptChannel(e.Message)
			return ice.SinkOK
		}
		if ch != nil {
			ch.HandleSTUN(e.Message, e.Raw, s.localUFrag, s.remoteUFrag)
		}
	case ice.EventReceivedPacket:
		if ch == nil {
			return ice.SinkOK
		}
		if _, payload, ok := rudp.ParseFrame(e.Packet); ok {
			ch.HandleRUDP(payload)
		}
	case ice.EventWriteReady:
		log.Debug("write ready")
	}
	return ice.SinkOK
}

func (s *demoSink) openChannel() {
	stream := &echoStream{}
	ch := rudp.NewOutgoing(s.session, stream, rudp.DefaultConfig(),
		s.localUFrag, s.localPassword, s.remoteUFrag, s.remotePassword, 1, 1, "icesessiond demo", channelSink{})
	stream.channel = ch

	s.mu.Lock()
	s.stream, s.ch = stream, ch
	s.mu.Unlock()
	log.Info("opening channel 1")
}

func (s *demoSink) acceptChannel(open *stun.Message) {
	stream := &echoStream{}
	ch, resp := rudp.NewIncoming(s.session, stream, rudp.DefaultConfig(),
		s.localUFrag, s.localPassword, s.remoteUFrag, s.remotePassword, 1, open, "icesessiond demo", channelSink{})
	stream.channel = ch

	s.mu.Lock()
	s.stream, s.ch = stream, ch
	s.mu.Unlock()
	s.session.SendSTUN(resp)
	log.Info("accepted channel 1")
}

// channelSink just logs: the demo has nothing else to react to on its own
// channel's state transitions or write-ready edge.
type channelSink struct{}

func (channelSink) StateChanged(state rudp.State) { log.Info("channel state: %s", state) }
func (channelSink) WriteReady()                   {}

// echoStream is a pass-through Stream: every Send is handed straight to
// the channel's framer, every received packet is printed. No reordering,
// retransmission, or congestion control — that engine is out of scope
// here and is injected at this seam in a production build.
type echoStream struct {
	channel *rudp.Channel
	state   rudp.StreamState
}

func (s *echoStream) Send(data []byte) (bool, int) {
	s.channel.NotifyStreamSendPacket(append([]byte(nil), data...))
	return true, 0
}

func (s *echoStream) Receive(buf []byte) int { return 0 }

func (s *echoStream) ReceiveSizeAvailable() int { return 0 }

func (s *echoStream) HandlePacket(data []byte) {
	fmt.Printf("peer: %s\n", string(data))
}

func (s *echoStream) Shutdown() {
	s.state = rudp.StreamShutdown
	s.channel.NotifyStreamStateChanged(rudp.StreamShutdown)
}

func (s *echoStream) ShutdownDirection(rudp.Direction) {}

func (s *echoStream) State() rudp.StreamState { return s.state }
