package flow

import (
	"github.com/hupe1980/policymesh/core"
)

// DefaultMaxTurns is used when a Loop has no positive MaxTurns.
const DefaultMaxTurns = 10

// LoopActor is the actor of the marker step a truncated Loop records.
const LoopActor = "loop"

const (
	payloadKeyLoop     = "loop"
	payloadKeyTurns    = "turns"
	payloadKeyMaxTurns = "max_turns"
	truncatedMarker    = "truncated"
)

// LoopState is the lifecycle state of a Loop.
type LoopState int

const (
	// LoopRunning means the loop has not stopped yet.
	LoopRunning LoopState = iota
	// LoopTerminated means a turn emitted no action_call step.
	LoopTerminated
	// LoopTruncated means the loop hit MaxTurns while calls were still being
	// requested.
	LoopTruncated
)

// String returns the string representation of the state.
func (s LoopState) String() string {
	switch s {
	case LoopRunning:
		return "RUNNING"
	case LoopTerminated:
		return "TERMINATED"
	case LoopTruncated:
		return "TRUNCATED"
	default:
		return "UNKNOWN"
	}
}

// Loop runs Inner turn after turn. Each turn's output is committed to the
// scope ledger, so the next turn observes it through ctx.Ledger().
//
// A turn without action_call steps ends the loop in LoopTerminated. When the
// turn limit is reached first the loop ends in LoopTruncated and records a
// marker step; truncation is a normal return, not an error. Use State on the
// returned steps to tell the two apart.
type Loop struct {
	MaxTurns int
	Inner    core.Policy
}

var _ core.Policy = Loop{}

// Run implements core.Policy.
func (l Loop) Run(ctx *core.InvocationContext, action core.Action) ([]core.Step, error) {
	maxTurns := l.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	var all []core.Step

	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := l.Inner.Run(ctx, action)
		if err != nil {
			return nil, err
		}

		out, err = ctx.Commit(out...)
		if err != nil {
			return nil, err
		}

		all = append(all, out...)

		if !hasActionCall(out) {
			ctx.LogDebug("loop.terminated", "policy", action.Policy, "scope", ctx.Scope(), "turns", turn)
			return all, nil
		}

		if turn >= maxTurns {
			marker, err := ctx.Commit(core.NewText(LoopActor, map[string]any{
				payloadKeyLoop:     truncatedMarker,
				payloadKeyTurns:    turn,
				payloadKeyMaxTurns: maxTurns,
			}))
			if err != nil {
				return nil, err
			}

			ctx.LogWarn("loop.truncated", "policy", action.Policy, "scope", ctx.Scope(), "max_turns", maxTurns)
			return append(all, marker...), nil
		}
	}
}

// State reports how a Loop ended, given the steps it returned. A truncated
// Loop always returns its marker last, also when its steps come back from
// InvocationContext.Call as action_result steps. Markers of nested loops that
// were followed by further turns do not count.
func State(steps []core.Step) LoopState {
	if len(steps) == 0 {
		return LoopRunning
	}
	if IsTruncation(steps[len(steps)-1]) {
		return LoopTruncated
	}
	return LoopTerminated
}

// IsTruncation reports whether s is the marker of a truncated Loop, either as
// recorded by the Loop or as forwarded to a caller.
func IsTruncation(s core.Step) bool {
	if s.Actor != LoopActor {
		return false
	}
	if s.Type != core.StepText && s.Type != core.StepActionResult {
		return false
	}
	v, _ := s.Payload[payloadKeyLoop].(string)
	return v == truncatedMarker
}

func hasActionCall(steps []core.Step) bool {
	for _, s := range steps {
		if s.IsActionCall() {
			return true
		}
	}
	return false
}
