package portal

import (
	"time"

	"github.com/shazow/wifiportal/wifi"
)

// Mode is the lifecycle state of a provisioning session.
type Mode int

const (
	Idle Mode = iota
	// Provisioning hosts the access point and waits for credentials.
	Provisioning
	// Connecting is held for the duration of a connection attempt.
	Connecting
	// Connected means the last attempt associated the station. The access
	// point stays up until the session closes.
	Connected
	Closed
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Provisioning:
		return "provisioning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Outcome is the result of a connection attempt.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeConnected
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeConnected:
		return "connected"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed-out"
	}
	return "unknown"
}

// CloseReason records why a session reached Closed.
type CloseReason int

const (
	CloseNone CloseReason = iota
	// CloseRequested follows an explicit RequestClose or a cancelled context.
	CloseRequested
	CloseTimedOut
	// CloseConfigured follows a submission when BreakAfterConfig is set.
	CloseConfigured
)

func (r CloseReason) String() string {
	switch r {
	case CloseNone:
		return "none"
	case CloseRequested:
		return "requested"
	case CloseTimedOut:
		return "timed-out"
	case CloseConfigured:
		return "configured"
	}
	return "unknown"
}

// Session is the mutable state of one provisioning session. It is owned by
// the Portal and only touched from the loop goroutine.
type Session struct {
	Started time.Time
	// Timeout of zero keeps the portal open until it is closed explicitly.
	Timeout time.Duration
	Mode    Mode

	CloseRequested   bool
	ConnectRequested bool
	// Pending holds the submitted credentials until the next tick consumes them.
	Pending wifi.Credentials

	LastOutcome Outcome
	LastError   error
	CloseReason CloseReason
}

// Expired reports whether the session has outlived its timeout at now.
func (s Session) Expired(now time.Time) bool {
	return s.Timeout > 0 && now.Sub(s.Started) >= s.Timeout
}
