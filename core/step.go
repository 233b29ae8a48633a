package core

import (
	"fmt"

	"github.com/google/uuid"
)

// StepType classifies a Step within a Ledger.
type StepType string

const (
	// StepText is a plain message or observation emitted by a policy.
	StepText StepType = "text"
	// StepActionCall requests the execution of another policy.
	StepActionCall StepType = "action_call"
	// StepActionResult carries the output of a resolved action call.
	StepActionResult StepType = "action_result"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepText, StepActionCall, StepActionResult:
		return true
	default:
		return false
	}
}

// Payload keys used by action_call steps and recoverable tool errors.
const (
	PayloadKeyPolicy  = "policy"
	PayloadKeyPayload = "payload"
	PayloadKeyError   = "error"
	PayloadKeyCode    = "code"
	PayloadKeyMessage = "message"
	PayloadKeyContent = "content"
)

// Step is the unit of record in a Ledger. Steps are values: once appended to a
// Ledger they are never mutated, and accessors hand out deep copies.
//
// CallID binds an action_call step to the action_result steps it produced. It
// is empty for text steps emitted outside of a call.
type Step struct {
	ID      string         `json:"id" yaml:"id"`
	Actor   string         `json:"actor" yaml:"actor"`
	Type    StepType       `json:"type" yaml:"type"`
	Payload map[string]any `json:"payload" yaml:"payload"`
	CallID  string         `json:"call_id,omitempty" yaml:"call_id,omitempty"`
}

// NewText creates a text step authored by actor.
func NewText(actor string, payload map[string]any) Step {
	return Step{Actor: actor, Type: StepText, Payload: orEmpty(payload)}
}

// NewMessage creates a text step whose payload holds a single content string.
func NewMessage(actor, content string) Step {
	return NewText(actor, map[string]any{PayloadKeyContent: content})
}

// NewActionCall creates an action_call step asking for policy to be run with
// payload. The call identity is assigned when the step is committed unless one
// is set explicitly with WithCallID.
func NewActionCall(actor, policy string, payload map[string]any) Step {
	return Step{
		Actor: actor,
		Type:  StepActionCall,
		Payload: map[string]any{
			PayloadKeyPolicy:  policy,
			PayloadKeyPayload: orEmpty(payload),
		},
	}
}

// NewActionResult creates an action_result step.
func NewActionResult(actor string, payload map[string]any) Step {
	return Step{Actor: actor, Type: StepActionResult, Payload: orEmpty(payload)}
}

// NewToolErrorResult creates an action_result step describing a recoverable
// failure. The engine does not interpret it; calling policies observe it in
// their ledger and decide how to proceed.
func NewToolErrorResult(actor, code, message string) Step {
	return NewActionResult(actor, map[string]any{
		PayloadKeyError:   true,
		PayloadKeyCode:    code,
		PayloadKeyMessage: message,
	})
}

// WithCallID returns a copy of s bound to callID.
func (s Step) WithCallID(callID string) Step {
	s.CallID = callID
	return s
}

// IsActionCall reports whether s is an action_call step.
func (s Step) IsActionCall() bool { return s.Type == StepActionCall }

// IsActionResult reports whether s is an action_result step.
func (s Step) IsActionResult() bool { return s.Type == StepActionResult }

// IsToolError reports whether s carries a recoverable tool error payload.
func (s Step) IsToolError() bool {
	if s.Type != StepActionResult {
		return false
	}
	flag, _ := s.Payload[PayloadKeyError].(bool)
	return flag
}

// Text returns the content string of a text step, if any.
func (s Step) Text() string {
	v, _ := s.Payload[PayloadKeyContent].(string)
	return v
}

// CallTarget extracts the target policy and its payload from an action_call
// step.
func (s Step) CallTarget() (string, map[string]any, error) {
	if s.Type != StepActionCall {
		return "", nil, fmt.Errorf("%w: step %q has type %s", ErrInvalidActionCall, s.ID, s.Type)
	}

	policy, ok := s.Payload[PayloadKeyPolicy].(string)
	if !ok || policy == "" {
		return "", nil, fmt.Errorf("%w: step %q has no policy name", ErrInvalidActionCall, s.ID)
	}

	raw, present := s.Payload[PayloadKeyPayload]
	if !present || raw == nil {
		return policy, map[string]any{}, nil
	}

	payload, ok := raw.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("%w: payload of %q must be an object, got %T", ErrInvalidActionCall, policy, raw)
	}

	return policy, payload, nil
}

// Clone returns a deep copy of s.
func (s Step) Clone() Step {
	s.Payload = cloneMap(s.Payload)
	return s
}

// NewID returns a random unique identifier.
func NewID() string {
	return uuid.NewString()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
