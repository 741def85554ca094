// Package ice implements the ICE (RFC 5245) session engine: candidate
// pairing, prioritized connectivity checks, nomination, role-conflict
// resolution, and post-nomination liveness. Candidate gathering (discovery
// of server-reflexive and relayed addresses) is an external collaborator —
// callers supply already-gathered local candidates and learn remote ones
// out of band (signaling) or by peer-reflexive discovery during checks.
package ice

import "net"

// Kind classifies a Candidate's provenance. Values are used directly as
// the leading term in the peer-reflexive priority formula (see
// Session.adoptPeerReflexiveCandidate).
type Kind int

const (
	Unknown Kind = iota
	Local
	ServerReflexive
	PeerReflexive
	Relayed
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "host"
	case ServerReflexive:
		return "srflx"
	case PeerReflexive:
		return "prflx"
	case Relayed:
		return "relay"
	default:
		return "unknown"
	}
}

// Transport is the candidate's transport protocol. TCP is reserved for
// interop with the design this engine follows but unused here: only UDP
// candidates are ever gathered or paired.
type Transport int

const (
	UDP Transport = iota
	TCP
)

// Candidate is one possible local or remote transport endpoint.
type Candidate struct {
	Address   *net.UDPAddr
	Kind      Kind
	Transport Transport

	// RelatedAddress is set for ServerReflexive/Relayed candidates: the
	// base address the candidate was derived from. matchesViaLocal uses
	// it to recover which local base a reflexive candidate maps to.
	RelatedAddress *net.UDPAddr

	// Priority is the RFC 5245 §4.1.2 32-bit candidate priority. For
	// Local/ServerReflexive/Relayed candidates this is supplied by
	// whatever gathered the candidate (out of scope here); for
	// PeerReflexive candidates the session computes it itself.
	Priority uint32

	// UFrag/Password are the short-term credentials of this candidate's
	// owning party: for local candidates, the session's own; for remote
	// candidates, whatever the remote party advertised (or, for
	// peer-reflexive candidates, the session's already-known remote
	// credentials).
	UFrag    string
	Password string

	// LocalPreference distinguishes candidates of the same Kind gathered
	// from different local interfaces; higher is preferred.
	LocalPreference uint16
}

// redundancyKey identifies candidates that are redundant with each other:
// same address, frag, and password. Of two candidates sharing a key, only
// the higher-priority one survives pair construction.
func (c *Candidate) redundancyKey() string {
	return c.Address.String() + "|" + c.UFrag + "|" + c.Password
}

// matchesViaLocal reports whether this (local) candidate is the one a
// packet arriving with the given local interface address should be
// attributed to. For a host candidate this is just the bound address; for
// a reflexive or relayed candidate it's the related (base) address if
// known, falling back to the candidate's own address if not — a fallback
// rule preserved for interop even though it reads oddly in isolation.
func (c *Candidate) matchesViaLocal(viaLocal net.IP) bool {
	switch c.Kind {
	case ServerReflexive, Relayed:
		if c.RelatedAddress != nil {
			return c.RelatedAddress.IP.Equal(viaLocal)
		}
		return c.Address.IP.Equal(viaLocal)
	default:
		return c.Address.IP.Equal(viaLocal)
	}
}
