package billing

import "strings"

// Signal is an input to the subscription lifecycle. Signals come from webhook
// events, reconciliation against the provider, and user cancel requests.
type Signal string

const (
	SignalTrialStarted    Signal = "trial_started"
	SignalActivated       Signal = "activated"
	SignalPastDue         Signal = "past_due"
	SignalCancelRequested Signal = "cancel_requested"
	SignalDeleted         Signal = "deleted"
)

// transitions is the full lifecycle table. Self-loops make repeated delivery
// of the same event a no-op instead of an error. Cancelled is terminal: no
// signal leaves it.
var transitions = map[Status]map[Signal]Status{
	StatusTrialing: {
		SignalTrialStarted:    StatusTrialing,
		SignalActivated:       StatusActive,
		SignalCancelRequested: StatusCancelAtPeriodEnd,
		SignalDeleted:         StatusCancelled,
	},
	StatusActive: {
		SignalActivated:       StatusActive,
		SignalPastDue:         StatusPastDue,
		SignalCancelRequested: StatusCancelAtPeriodEnd,
		SignalDeleted:         StatusCancelled,
	},
	StatusPastDue: {
		SignalActivated:       StatusActive,
		SignalPastDue:         StatusPastDue,
		SignalCancelRequested: StatusCancelAtPeriodEnd,
		SignalDeleted:         StatusCancelled,
	},
	StatusCancelAtPeriodEnd: {
		SignalCancelRequested: StatusCancelAtPeriodEnd,
		SignalDeleted:         StatusCancelled,
	},
	StatusCancelled: {
		SignalDeleted: StatusCancelled,
	},
}

// Transition applies a signal to the current status. The second return value
// reports whether the transition is allowed; callers skip disallowed
// transitions rather than failing, since stale webhook ordering is expected.
func Transition(current Status, sig Signal) (Status, bool) {
	next, ok := transitions[current][sig]
	return next, ok
}

// IsTerminal reports whether no signal can move the subscription out of the
// given status.
func IsTerminal(s Status) bool {
	return s == StatusCancelled
}

// signalForProviderState maps the provider's reported subscription state to a
// lifecycle signal. A scheduled cancellation overrides an otherwise active
// status.
func signalForProviderState(providerStatus string, scheduledCancel bool) (Signal, bool) {
	status := strings.ToLower(providerStatus)
	if scheduledCancel && status != "canceled" && status != "cancelled" {
		return SignalCancelRequested, true
	}
	switch status {
	case "trialing":
		return SignalTrialStarted, true
	case "active":
		return SignalActivated, true
	case "past_due":
		return SignalPastDue, true
	case "canceled", "cancelled", "expired":
		return SignalDeleted, true
	default:
		return "", false
	}
}
