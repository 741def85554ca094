package ice

import "time"

// Config is the enumerated set of session tunables from SPEC_FULL.md §7.
type Config struct {
	// KeepAliveInterval is how often a Binding indication is sent over
	// the nominated pair when no data has been sent. Zero disables
	// indication-based keep-alive.
	KeepAliveInterval time.Duration

	// ExpectSTUNOrDataWithin bounds how long the session will go after
	// nomination without receiving anything before issuing an alive
	// check. Zero disables the expecting-data timer entirely.
	ExpectSTUNOrDataWithin time.Duration

	// AliveCheckTimeout bounds the alive-check STUN transaction.
	AliveCheckTimeout time.Duration

	// BackgroundingTimeout shuts the session down if no activity at all
	// is observed for this long. Zero disables backgrounding.
	BackgroundingTimeout time.Duration

	// MaxCandidatePairs additionally bounds buildPairs beyond the
	// built-in RFC 5245 cap of 100, if smaller. Zero means "use the
	// built-in cap only".
	MaxCandidatePairs int

	// MaxWaitForActivation is how long the session searches for a valid
	// pair before giving up with CandidateSearchFailed.
	MaxWaitForActivation time.Duration

	// SearchGiveupIdealWindow is how long the session will hold out for
	// the top-priority valid pair before nominating any valid one.
	SearchGiveupIdealWindow time.Duration
}

const (
	defaultKeepAliveInterval       = 15 * time.Second
	defaultMaxWaitForActivation    = 60 * time.Second
	defaultSearchGiveupIdealWindow = 4 * time.Second

	activateTickInterval = 20 * time.Millisecond
	stepTickInterval      = 2 * time.Second
)

// DefaultConfig returns the defaults enumerated in SPEC_FULL.md §7.
func DefaultConfig() Config {
	return Config{
		KeepAliveInterval:       defaultKeepAliveInterval,
		MaxWaitForActivation:    defaultMaxWaitForActivation,
		SearchGiveupIdealWindow: defaultSearchGiveupIdealWindow,
	}
}
