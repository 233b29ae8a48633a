package testutil

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/policymesh/core"
)

// LedgerBuilder provides a fluent helper for constructing ledgers in tests.
// Example:
//
//	l := NewLedgerBuilder().Message("user", "hi").Call("o", "adder", payload, "c1").Result("adder", out, "c1").Build(t)
type LedgerBuilder struct {
	steps []core.Step
}

// NewLedgerBuilder creates an empty builder.
func NewLedgerBuilder() *LedgerBuilder { return &LedgerBuilder{} }

// Message appends a text step carrying content (chainable).
func (b *LedgerBuilder) Message(actor, content string) *LedgerBuilder {
	return b.Step(core.NewMessage(actor, content))
}

// Text appends a text step with an arbitrary payload (chainable).
func (b *LedgerBuilder) Text(actor string, payload map[string]any) *LedgerBuilder {
	return b.Step(core.NewText(actor, payload))
}

// Call appends an action_call step bound to callID (chainable).
func (b *LedgerBuilder) Call(actor, policy string, payload map[string]any, callID string) *LedgerBuilder {
	return b.Step(core.NewActionCall(actor, policy, payload).WithCallID(callID))
}

// Result appends an action_result step bound to callID (chainable).
func (b *LedgerBuilder) Result(actor string, payload map[string]any, callID string) *LedgerBuilder {
	return b.Step(core.NewActionResult(actor, payload).WithCallID(callID))
}

// ToolError appends a recoverable tool error result bound to callID (chainable).
func (b *LedgerBuilder) ToolError(actor, code, message, callID string) *LedgerBuilder {
	return b.Step(core.NewToolErrorResult(actor, code, message).WithCallID(callID))
}

// Step appends s as is (chainable). Steps without an ID get a positional one.
func (b *LedgerBuilder) Step(s core.Step) *LedgerBuilder {
	if s.ID == "" {
		s.ID = "test:" + strconv.Itoa(len(b.steps))
	}
	b.steps = append(b.steps, s)
	return b
}

// Build returns the ledger, failing the test when a step is invalid.
func (b *LedgerBuilder) Build(t testing.TB) core.Ledger {
	t.Helper()

	l, err := core.NewLedger(b.steps...)
	require.NoError(t, err)

	return l
}
