package flow

import "github.com/hupe1980/policymesh/core"

const (
	layerLoop = iota
	layerInvoke
)

type loopDecorator struct{ maxTurns int }

func (d loopDecorator) Decorate(inner core.Policy) core.Policy {
	return Loop{MaxTurns: d.maxTurns, Inner: inner}
}

func (loopDecorator) Layer() int { return layerLoop }

type invokeDecorator struct{}

func (invokeDecorator) Decorate(inner core.Policy) core.Policy {
	return InvokeAction{Inner: inner}
}

func (invokeDecorator) Layer() int { return layerInvoke }

// WithLoop returns a decorator wrapping a policy in a Loop.
func WithLoop(maxTurns int) core.Decorator { return loopDecorator{maxTurns: maxTurns} }

// WithInvokeAction returns a decorator wrapping a policy in InvokeAction.
func WithInvokeAction() core.Decorator { return invokeDecorator{} }

// AgentDecorators returns the canonical decorator stack for Call:
// WithLoop(maxTurns) outside WithInvokeAction().
func AgentDecorators(maxTurns int) []core.Decorator {
	return []core.Decorator{WithLoop(maxTurns), WithInvokeAction()}
}
