package flow

import (
	"github.com/hupe1980/policymesh/core"
)

// InvokeAction runs Inner, commits its output and resolves every action_call
// step it emitted through ctx.Resolve. Sub-calls inherit the capability set
// of the Action being served; if any is not permitted nothing of the turn is
// committed. Sub-calls may run concurrently; all results are
// recorded before Run returns. Calls that already have results are answered
// from the ledger.
type InvokeAction struct {
	Inner core.Policy
}

var _ core.Policy = InvokeAction{}

// Run implements core.Policy.
func (ia InvokeAction) Run(ctx *core.InvocationContext, action core.Action) ([]core.Step, error) {
	out, err := ia.Inner.Run(ctx, action)
	if err != nil {
		return nil, err
	}

	// A denied call leaves the turn unrecorded.
	if err := ctx.Authorize(out...); err != nil {
		return nil, err
	}

	out, err = ctx.Commit(out...)
	if err != nil {
		return nil, err
	}

	var calls []core.Step
	for _, s := range out {
		if s.IsActionCall() {
			calls = append(calls, s)
		}
	}

	if len(calls) == 0 {
		return out, nil
	}

	results, err := ctx.Resolve(calls...)
	if err != nil {
		return nil, err
	}

	return append(out, results...), nil
}

// Agent composes the canonical multi-turn agent Loop(InvokeAction(p)).
func Agent(p core.Policy, maxTurns int) core.Policy {
	return Loop{MaxTurns: maxTurns, Inner: InvokeAction{Inner: p}}
}
