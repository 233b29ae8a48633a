package core

import "time"

// CallOutcome classifies how a dispatched call ended.
type CallOutcome string

const (
	// OutcomeExecuted means the policy body ran and returned results.
	OutcomeExecuted CallOutcome = "executed"
	// OutcomeReplayed means the results were served from the ledger.
	OutcomeReplayed CallOutcome = "replayed"
	// OutcomeDenied means the capability check failed.
	OutcomeDenied CallOutcome = "denied"
	// OutcomeFailed means resolution or execution returned an error.
	OutcomeFailed CallOutcome = "failed"
	// OutcomeSuspended means the call is waiting for an external result.
	OutcomeSuspended CallOutcome = "suspended"
)

// Observer receives one notification per dispatched call. Implementations
// must be safe for concurrent use.
type Observer interface {
	ObserveCall(policy string, outcome CallOutcome, elapsed time.Duration)
}

// NoOpObserver discards all notifications.
type NoOpObserver struct{}

// ObserveCall implements Observer.
func (NoOpObserver) ObserveCall(string, CallOutcome, time.Duration) {}
