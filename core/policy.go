package core

import (
	"fmt"
	"sort"
)

// Policy is a deterministic decision unit. Given the Action it was invoked
// with and its invocation context, it returns the steps it selects.
//
// Policies must not perform side effects inline. Network I/O, randomness and
// wall-clock reads belong in leaf policies reached through
// InvocationContext.Call (or emitted as action_call steps), where their output
// is recorded as action_result steps and replays from the ledger.
type Policy interface {
	Run(ctx *InvocationContext, action Action) ([]Step, error)
}

// PolicyFunc adapts an ordinary function to the Policy interface.
type PolicyFunc func(ctx *InvocationContext, action Action) ([]Step, error)

// Run implements Policy.
func (f PolicyFunc) Run(ctx *InvocationContext, action Action) ([]Step, error) {
	return f(ctx, action)
}

// Decorator wraps a Policy with additional control flow.
type Decorator interface {
	Decorate(inner Policy) Policy
}

// Layered is implemented by decorators that must appear at a fixed depth.
// Within a decorator stack, listed outermost first, layers must not decrease.
type Layered interface {
	Layer() int
}

// Compose wraps p with decorators listed outermost first, so
// Compose(p, a, b) yields a(b(p)).
func Compose(p Policy, decorators ...Decorator) (Policy, error) {
	if err := checkLayers(decorators); err != nil {
		return nil, err
	}

	wrapped := p
	for i := len(decorators) - 1; i >= 0; i-- {
		if decorators[i] == nil {
			continue
		}
		wrapped = decorators[i].Decorate(wrapped)
	}
	return wrapped, nil
}

func checkLayers(decorators []Decorator) error {
	last := -1
	for i, d := range decorators {
		l, ok := d.(Layered)
		if !ok {
			continue
		}
		if l.Layer() < last {
			return fmt.Errorf("%w: decorator %d (%T) must wrap the decorators listed before it", ErrDecoratorOrder, i, d)
		}
		last = l.Layer()
	}
	return nil
}

// Deferred returns a policy whose results are supplied out of process. It
// always suspends; a durable runner persists the pending call and a worker
// completes it later.
func Deferred() Policy {
	return PolicyFunc(func(_ *InvocationContext, _ Action) ([]Step, error) {
		return nil, ErrSuspend
	})
}

// PolicyKind describes how a policy is advertised to callers.
type PolicyKind string

const (
	// KindTool marks a policy that performs an operation.
	KindTool PolicyKind = "tool"
	// KindResource marks a policy that reads data.
	KindResource PolicyKind = "resource"
	// KindInternal marks a policy that is not advertised.
	KindInternal PolicyKind = "internal"
)

// Metadata describes a registered policy's callable surface.
type Metadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Kind        PolicyKind     `json:"kind,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// RequiredParams lists the required top-level payload keys declared by the
// input schema, sorted.
func (m Metadata) RequiredParams() []string {
	var out []string
	switch req := m.InputSchema["required"].(type) {
	case []string:
		out = append(out, req...)
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
