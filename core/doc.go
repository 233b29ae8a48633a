// Package core provides the foundational domain types and the dispatch
// protocol of policymesh. It defines:
//
//   - Steps and Ledgers (immutable records and their append-only history)
//   - Actions and ActionSets (request envelopes and capability boundaries)
//   - Policies, Decorators and the Registry
//   - InvocationContext (per-invocation scope, replay cache and dispatch)
//   - The LedgerStore and Runner contracts implemented by other packages
//
// A policy never runs another policy directly. It either calls
// InvocationContext.Call or emits action_call steps that a decorator resolves.
// Every resolved call leaves an action_call step and its action_result steps
// in the caller's ledger; a later execution over the same ledger receives the
// recorded results instead of running the callee again. This is what makes a
// policy tree replayable after a crash.
//
// Storage backends, control-flow decorators and runners live in their own
// packages and only depend on the small interfaces declared here.
package core
