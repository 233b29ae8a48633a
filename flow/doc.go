// Package flow provides the control-flow decorators used to turn a single
// decision policy into a multi-turn agent.
//
//   - Loop re-runs its inner policy until a turn emits no action_call step,
//     or stops in the TRUNCATED state after MaxTurns.
//   - InvokeAction resolves every action_call step emitted by its inner
//     policy through the invocation context before returning.
//
// Both are plain values implementing core.Policy and compose by nesting:
//
//	agent := flow.Loop{MaxTurns: 5, Inner: flow.InvokeAction{Inner: planner}}
//
// Loop must be the outer decorator; otherwise the loop never observes the
// results of the calls it triggered. The Decorator forms (WithLoop,
// WithInvokeAction) enforce this order when passed to InvocationContext.Call.
package flow
