package core

import "context"

// RunStatus is the terminal state of a runner invocation.
type RunStatus string

const (
	// StatusCompleted means the root policy returned.
	StatusCompleted RunStatus = "completed"
	// StatusSuspended means the run halted at calls awaiting external results.
	StatusSuspended RunStatus = "suspended"
)

// RunRequest describes a top-level invocation.
type RunRequest struct {
	// Key identifies the run in durable storage. Required by durable runners.
	Key string
	// Policy is the registered name of the root policy.
	Policy string
	// Payload is handed to the root policy.
	Payload map[string]any
	// Actions bounds the sub-calls the root policy may make.
	Actions ActionSet
	// Ledger seeds the root scope's history. Recorded results in it are
	// replayed instead of re-executed.
	Ledger Ledger
}

// RunResult is the outcome of a runner invocation.
type RunResult struct {
	RunID   string
	Key     string
	Status  RunStatus
	Ledger  Ledger
	Pending []PendingCall
}

// Runner drives a root policy to completion (or suspension).
//
// Semantics & Guarantees:
//   - Registry: the runner freezes its registry on construction.
//   - Replay: recorded action_result steps are reused, so re-running a
//     request over the same history never re-executes resolved calls.
//   - Errors: capability, not-found and policy failures are returned as
//     errors; recoverable tool errors and loop truncation are data in the
//     ledger.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}
