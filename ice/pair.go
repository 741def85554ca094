package ice

import (
	"net"
	"sort"
	"time"

	"github.com/sudoconf/icertc/internal/stun"
)

// PairState is a CandidatePair's connectivity-check lifecycle.
type PairState int

const (
	Waiting PairState = iota
	InProgress
	Succeeded
	Failed
)

func (s PairState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case InProgress:
		return "in-progress"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// maxCandidatePairsHardCap is the RFC 5245 §5.7.3-recommended ceiling on
// the number of pairs a session ever keeps, independent of Config.
const maxCandidatePairsHardCap = 100

// CandidatePair is a (local, remote) candidate tuple under evaluation.
type CandidatePair struct {
	Local  *Candidate
	Remote *Candidate

	ReceivedRequest  bool
	ReceivedResponse bool
	Failed           bool
	State            PairState
	Nominated        bool

	activeCheck *stun.Requester

	// lastActivated is when a check was last sent for this pair. It is
	// only recorded: the search-exhaustion giveup and ideal-window checks
	// time the search from the session's searchStartedAt instead.
	lastActivated time.Time
}

func newCandidatePair(local, remote *Candidate) *CandidatePair {
	return &CandidatePair{Local: local, Remote: remote, State: Waiting}
}

// priority computes the pair priority from §3's formula:
//
//	(1<<32) * min(pc,pr) + 2*max(pc,pr) + (pc>pr?1:0)
//
// where pc/pr are the priorities of whichever candidate plays the
// controlling/controlled role for sorting purposes — which side that is
// depends on the session's current role, not on which candidate is
// "local" vs "remote".
func (p *CandidatePair) priority(role Role) uint64 {
	var pc, pr uint64
	if role == Controlling {
		pc, pr = uint64(p.Local.Priority), uint64(p.Remote.Priority)
	} else {
		pc, pr = uint64(p.Remote.Priority), uint64(p.Local.Priority)
	}

	g, d := pc, pr
	if g > d {
		g, d = d, g
	}
	var b uint64
	if pc > pr {
		b = 1
	}
	return (uint64(1)<<32)*g + 2*d + b
}

// buildPairs forms the Cartesian product of local x remote candidates,
// sorts by role-correct priority (highest first), and prunes per §4.2.1:
// server-reflexive locals cannot be used to send from, redundant remotes
// within the same local-kind layer are dropped (the higher-priority copy
// wins; a Host-local path and a Relayed-local path to the same remote are
// different layers and both survive), and the result is capped at
// maxCandidatePairsHardCap (and further at Config.MaxCandidatePairs, if
// smaller).
func buildPairs(locals, remotes []*Candidate, role Role, maxPairs int) []*CandidatePair {
	var pairs []*CandidatePair
	for _, local := range locals {
		if local.Kind == ServerReflexive {
			// Cannot send from a reflexive address; it exists only so
			// the peer can route packets to it.
			continue
		}
		for _, remote := range remotes {
			pairs = append(pairs, newCandidatePair(local, remote))
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].priority(role) > pairs[j].priority(role)
	})

	limit := maxCandidatePairsHardCap
	if maxPairs > 0 && maxPairs < limit {
		limit = maxPairs
	}

	// Redundancy is only dropped within one local-kind layer: a Host-local
	// path and a Relayed-local path to the same remote are different
	// routes worth keeping even though their remotes match. seen is keyed
	// per Kind the way the searchArray/foundRemotes loop this follows
	// resets foundRemotes on every outer iteration.
	seen := make(map[Kind]map[string]bool)
	pruned := make([]*CandidatePair, 0, len(pairs))
	for _, p := range pairs {
		byKind := seen[p.Local.Kind]
		if byKind == nil {
			byKind = make(map[string]bool)
			seen[p.Local.Kind] = byKind
		}
		key := p.Remote.redundancyKey()
		if byKind[key] {
			continue
		}
		byKind[key] = true
		pruned = append(pruned, p)
		if len(pruned) >= limit {
			break
		}
	}
	return pruned
}

// findPair returns the pair matching (viaLocal, transport, source), or
// nil. Per §4.2.3 step 2, viaLocal is matched against the local
// candidate's base (matchesViaLocal), and source against the remote
// candidate's address.
func findPair(pairs []*CandidatePair, viaLocal net.IP, transport Transport, source *net.UDPAddr) *CandidatePair {
	for _, p := range pairs {
		if p.Local.Transport != transport {
			continue
		}
		if !p.Local.matchesViaLocal(viaLocal) {
			continue
		}
		if p.Remote.Address.IP.Equal(source.IP) && p.Remote.Address.Port == source.Port {
			return p
		}
	}
	return nil
}
