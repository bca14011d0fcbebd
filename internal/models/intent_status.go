package models

import "fmt"

// IntentStatus is the lifecycle state of a PaymentIntent
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"   // waiting for a deposit
	IntentStatusMatched   IntentStatus = "matched"   // deposit found, credit not applied yet
	IntentStatusCompleted IntentStatus = "completed" // credits applied
	IntentStatusExpired   IntentStatus = "expired"   // deadline passed without a deposit
	IntentStatusCancelled IntentStatus = "cancelled" // cancelled by the user or replaced
)

// AllIntentStatuses lists every status in lifecycle order
var AllIntentStatuses = []IntentStatus{
	IntentStatusPending,
	IntentStatusMatched,
	IntentStatusCompleted,
	IntentStatusExpired,
	IntentStatusCancelled,
}

var intentTransitions = map[IntentStatus][]IntentStatus{
	IntentStatusPending: {IntentStatusMatched, IntentStatusExpired, IntentStatusCancelled},
	IntentStatusMatched: {IntentStatusCompleted},
}

// CanTransitionTo reports whether from -> to is an edge of the lifecycle graph
func (s IntentStatus) CanTransitionTo(to IntentStatus) bool {
	for _, next := range intentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status
func (s IntentStatus) IsTerminal() bool {
	return len(intentTransitions[s]) == 0
}

// IsValid reports whether s is a known status
func (s IntentStatus) IsValid() bool {
	for _, known := range AllIntentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error for edges outside the lifecycle graph
func ValidateTransition(from, to IntentStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("invalid intent transition %s -> %s", from, to)
	}
	return nil
}
