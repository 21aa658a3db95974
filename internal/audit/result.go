package audit

import "fmt"

// State is the lifecycle position of an audit.
type State int

const (
	StateStarting State = iota
	StateRunning
	// StateAwaitingReport: every ACK is in, reports not launched yet.
	StateAwaitingReport
	StateReporting
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateAwaitingReport:
		return "awaiting_report"
	case StateReporting:
		return "reporting"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is what happened to a dispatched message.
type Outcome int

const (
	Forwarded Outcome = iota
	Dropped
	Orphaned
)

func (o Outcome) String() string {
	switch o {
	case Forwarded:
		return "forwarded"
	case Dropped:
		return "dropped"
	case Orphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reason explains a Dropped outcome.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonLinkBudget
	ReasonDuplicate
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonLinkBudget:
		return "link_budget"
	case ReasonDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Result reports how Audit.DispatchMsg handled a message.
type Result struct {
	Outcome Outcome
	Reason  Reason
	// Delivered is the number of ACKs the plugin deliveries will produce.
	Delivered int
}
