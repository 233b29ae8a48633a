// Package runner drives a root policy over a Registry.
//
// Two implementations of core.Runner are provided:
//
//   - Memory runs synchronously with a per-run in-memory journal. A
//     suspension is reported as an error.
//   - Durable saves every scope ledger to a core.LedgerStore under the run
//     key. Re-running the same key replays recorded results instead of
//     re-executing them; suspended runs return StatusSuspended together with
//     the pending calls, which Complete can resolve out of band.
//
// # Responsibilities (abridged)
//   - Root context construction (registry freeze, seed history, limits)
//   - Root policy execution and final checkpoint
//   - Suspension reporting
//   - Invocation lifecycle management & cancellation
package runner
