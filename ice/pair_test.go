package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBuildPairsRedundancyPrunedPerLocalKind guards against collapsing a
// Host-local path and a Relayed-local path to the same remote: redundancy
// is only a same-local-kind-layer concept (see buildPairs), so both pairs
// must survive even though they share a remote.
func TestBuildPairsRedundancyPrunedPerLocalKind(t *testing.T) {
	remoteAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	remote := &Candidate{Address: remoteAddr, Kind: Local, Transport: UDP, Priority: 100, UFrag: "r", Password: "rp"}

	hostLocal := &Candidate{Address: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1000}, Kind: Local, Transport: UDP, Priority: 200}
	relayLocal := &Candidate{Address: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2000}, Kind: Relayed, Transport: UDP, Priority: 50}

	pairs := buildPairs([]*Candidate{hostLocal, relayLocal}, []*Candidate{remote}, Controlling, 0)

	require.Len(t, pairs, 2)
	var sawHost, sawRelay bool
	for _, p := range pairs {
		switch p.Local.Kind {
		case Local:
			sawHost = true
		case Relayed:
			sawRelay = true
		}
	}
	require.True(t, sawHost, "host-local pair must survive")
	require.True(t, sawRelay, "relayed-local pair must survive despite sharing a remote with the host-local pair")
}

// TestBuildPairsRedundancyPrunedWithinSameKind checks the same-layer case
// still dedups: two local candidates of the same kind racing to the same
// remote keep only the higher-priority copy.
func TestBuildPairsRedundancyPrunedWithinSameKind(t *testing.T) {
	remoteAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	remote := &Candidate{Address: remoteAddr, Kind: Local, Transport: UDP, Priority: 100, UFrag: "r", Password: "rp"}

	higher := &Candidate{Address: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1000}, Kind: Local, Transport: UDP, Priority: 200}
	lower := &Candidate{Address: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1001}, Kind: Local, Transport: UDP, Priority: 50}

	pairs := buildPairs([]*Candidate{higher, lower}, []*Candidate{remote}, Controlling, 0)

	require.Len(t, pairs, 1)
	require.Equal(t, higher, pairs[0].Local)
}
