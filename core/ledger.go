package core

import (
	"encoding/json"
	"fmt"
	"iter"
	"sync/atomic"
)

// Ledger is an ordered, append-only history of Steps. It is a persistent value:
// Append and Extend return a new Ledger and leave the receiver untouched.
//
// Ledgers share their backing array. The newest value extends it in place;
// appending to an older value copies, so every previously returned Ledger
// keeps observing exactly the steps it was created with. The zero value is an
// empty Ledger ready for use.
type Ledger struct {
	steps []Step
	// tip is the number of slots of the backing array claimed by some Ledger.
	tip *atomic.Int64
}

// NewLedger builds a Ledger from steps.
func NewLedger(steps ...Step) (Ledger, error) {
	return Ledger{}.Extend(steps...)
}

// Len returns the number of steps.
func (l Ledger) Len() int { return len(l.steps) }

// IsEmpty reports whether the ledger has no steps.
func (l Ledger) IsEmpty() bool { return len(l.steps) == 0 }

// At returns a copy of the i-th step. It panics if i is out of range.
func (l Ledger) At(i int) Step { return l.steps[i].Clone() }

// Last returns a copy of the newest step.
func (l Ledger) Last() (Step, bool) {
	if len(l.steps) == 0 {
		return Step{}, false
	}
	return l.steps[len(l.steps)-1].Clone(), true
}

// Steps returns a copy of all steps in order.
func (l Ledger) Steps() []Step {
	out := make([]Step, len(l.steps))
	for i := range l.steps {
		out[i] = l.steps[i].Clone()
	}
	return out
}

// All iterates over copies of the steps in order.
func (l Ledger) All() iter.Seq2[int, Step] {
	return func(yield func(int, Step) bool) {
		for i := range l.steps {
			if !yield(i, l.steps[i].Clone()) {
				return
			}
		}
	}
}

// Append returns a new Ledger with s added at the end. It fails if the step
// type is unknown or the payload cannot be encoded as JSON. The stored payload
// is the JSON-normalized form of s.Payload.
func (l Ledger) Append(s Step) (Ledger, error) {
	n, err := normalizeStep(s)
	if err != nil {
		return l, err
	}
	return l.push(n), nil
}

// Extend returns a new Ledger with steps added in order. Either all steps are
// appended or, on error, none are.
func (l Ledger) Extend(steps ...Step) (Ledger, error) {
	if len(steps) == 0 {
		return l, nil
	}

	normalized := make([]Step, len(steps))
	for i, s := range steps {
		n, err := normalizeStep(s)
		if err != nil {
			return l, fmt.Errorf("step %d: %w", i, err)
		}
		normalized[i] = n
	}

	return l.push(normalized...), nil
}

// Results returns the action_result steps bound to callID, in ledger order.
func (l Ledger) Results(callID string) []Step {
	var out []Step
	for i := range l.steps {
		if l.steps[i].Type == StepActionResult && l.steps[i].CallID == callID {
			out = append(out, l.steps[i].Clone())
		}
	}
	return out
}

// Pending returns the action_call steps that have no result yet.
func (l Ledger) Pending() []Step {
	resolved := make(map[string]bool)
	for i := range l.steps {
		if l.steps[i].Type == StepActionResult {
			resolved[l.steps[i].CallID] = true
		}
	}

	var out []Step
	for i := range l.steps {
		if l.steps[i].Type == StepActionCall && !resolved[l.steps[i].CallID] {
			out = append(out, l.steps[i].Clone())
		}
	}
	return out
}

// MarshalJSON encodes the ledger as a JSON array of steps.
func (l Ledger) MarshalJSON() ([]byte, error) {
	if l.steps == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.steps)
}

// UnmarshalJSON decodes a JSON array of steps.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return err
	}

	decoded, err := NewLedger(steps...)
	if err != nil {
		return err
	}

	*l = decoded
	return nil
}

func (l Ledger) push(steps ...Step) Ledger {
	n := len(l.steps)

	if l.tip != nil && l.tip.CompareAndSwap(int64(n), int64(n+len(steps))) {
		grown := append(l.steps, steps...)
		if cap(grown) == cap(l.steps) {
			return Ledger{steps: grown, tip: l.tip}
		}
		return Ledger{steps: grown, tip: newTip(len(grown))}
	}

	fresh := make([]Step, n, 2*(n+len(steps)))
	copy(fresh, l.steps)
	fresh = append(fresh, steps...)
	return Ledger{steps: fresh, tip: newTip(len(fresh))}
}

func newTip(n int) *atomic.Int64 {
	t := new(atomic.Int64)
	t.Store(int64(n))
	return t
}

func normalizeStep(s Step) (Step, error) {
	if !s.Type.Valid() {
		return Step{}, fmt.Errorf("%w: unknown step type %q", ErrInvalidStep, s.Type)
	}

	payload, err := normalizePayload(s.Payload)
	if err != nil {
		return Step{}, fmt.Errorf("%w: step %q from %q: %v", ErrUnserializablePayload, s.ID, s.Actor, err)
	}

	s.Payload = payload
	return s, nil
}

// normalizePayload round-trips a payload through JSON so the stored value
// owns its maps and matches what a store would load back.
func normalizePayload(p map[string]any) (map[string]any, error) {
	if len(p) == 0 {
		return map[string]any{}, nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
