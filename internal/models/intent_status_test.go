package models

import "testing"

func TestIntentStatusTransitions(t *testing.T) {
	allowed := map[IntentStatus][]IntentStatus{
		IntentStatusPending: {IntentStatusMatched, IntentStatusExpired, IntentStatusCancelled},
		IntentStatusMatched: {IntentStatusCompleted},
	}
	for _, from := range AllIntentStatuses {
		for _, to := range AllIntentStatuses {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: expected %v got %v", from, to, want, got)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []IntentStatus{IntentStatusCompleted, IntentStatusExpired, IntentStatusCancelled} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if IntentStatusPending.IsTerminal() || IntentStatusMatched.IsTerminal() {
		t.Fatal("pending and matched must not be terminal")
	}
	if err := ValidateTransition(IntentStatusCompleted, IntentStatusPending); err == nil {
		t.Fatal("expected completed -> pending to be rejected")
	}
	if IntentStatus("paid").IsValid() {
		t.Fatal("unknown status reported as valid")
	}
}
