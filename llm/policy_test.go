package llm

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/flow"
	"github.com/hupe1980/policymesh/internal/testutil"
	"github.com/hupe1980/policymesh/logging"
	"github.com/hupe1980/policymesh/model"
	"github.com/hupe1980/policymesh/store/memory"
	"github.com/hupe1980/policymesh/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func adderTool(calls *atomic.Int32) tool.Tool {
	return tool.NewFunctionTool("adder", "Add two numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(_ *core.InvocationContext, args map[string]any) (any, error) {
		calls.Add(1)
		return map[string]any{"sum": args["a"].(float64) + args["b"].(float64)}, nil
	})
}

func scripted() *model.MockModel {
	m := model.NewMockModel("mock", "test")
	m.Script(
		model.Response{Message: model.Message{ToolCalls: []model.ToolCall{{
			ID:       "t1",
			Type:     "function",
			Function: model.ToolCallFunction{Name: "adder", Arguments: `{"a":2,"b":3}`},
		}}}},
		model.Response{Message: model.Message{Content: "sum is 5"}},
	)
	return m
}

func newRegistry(t *testing.T, calls *atomic.Int32) *core.Registry {
	t.Helper()
	reg := core.NewRegistry()
	require.NoError(t, tool.Register(reg, adderTool(calls)))
	return reg
}

func newRoot(t *testing.T, reg *core.Registry, optFns ...func(o *core.RootOptions)) *core.InvocationContext {
	t.Helper()

	optFns = append([]func(o *core.RootOptions){func(o *core.RootOptions) { o.Logger = logging.NoOpLogger{} }}, optFns...)

	action := core.NewAction("planner", map[string]any{"prompt": "add 2 and 3"}).WithActions(core.Allow("adder"))
	root, err := core.NewRootContext(context.Background(), reg, action, optFns...)
	require.NoError(t, err)

	return root
}

func TestPolicy_DrivesToolLoop(t *testing.T) {
	var calls atomic.Int32
	m := scripted()

	root := newRoot(t, newRegistry(t, &calls))

	out, err := root.Execute(flow.Agent(New(m), 5))
	require.NoError(t, err)
	assert.Equal(t, flow.LoopTerminated, flow.State(out))
	assert.Equal(t, int32(1), calls.Load())

	steps := root.Ledger().Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, core.StepActionCall, steps[0].Type)
	assert.Equal(t, float64(5), steps[1].Payload["sum"])
	assert.Equal(t, "sum is 5", steps[2].Text())
	assert.Equal(t, model.RoleAssistant, steps[2].Payload[PayloadKeyRole])

	requests := m.Requests()
	require.Len(t, requests, 2)

	first := requests[0]
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "adder", first.Tools[0].Function.Name)
	assert.Equal(t, []model.Message{{Role: model.RoleUser, Content: "add 2 and 3"}}, first.Messages)

	second := requests[1].Messages
	require.Len(t, second, 3)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, steps[0].CallID, second[1].ToolCalls[0].ID)
	assert.JSONEq(t, `{"a":2,"b":3}`, second[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, model.RoleTool, second[2].Role)
	assert.Equal(t, steps[0].CallID, second[2].ToolCallID)
	assert.JSONEq(t, `{"sum":5}`, second[2].Content)
}

func TestPolicy_ReplaysRecordedTurns(t *testing.T) {
	var calls atomic.Int32
	store := memory.New()
	withStore := func(o *core.RootOptions) {
		o.Store = store
		o.Key = "job"
	}

	first := newRoot(t, newRegistry(t, &calls), withStore)
	_, err := first.Execute(flow.Agent(New(scripted()), 5))
	require.NoError(t, err)
	require.NoError(t, first.Checkpoint())

	idle := model.NewMockModel("idle", "test")
	second := newRoot(t, newRegistry(t, &calls), withStore)
	_, err = second.Execute(flow.Agent(New(idle), 5))
	require.NoError(t, err)

	assert.Empty(t, idle.Requests())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Ledger().Steps(), second.Ledger().Steps())
}

func TestPolicy_DeniedToolIsReported(t *testing.T) {
	var calls atomic.Int32
	m := model.NewMockModel("mock", "test")
	m.Script(model.Response{Message: model.Message{ToolCalls: []model.ToolCall{{
		ID:       "t1",
		Function: model.ToolCallFunction{Name: "rm", Arguments: `{}`},
	}}}})

	root := newRoot(t, newRegistry(t, &calls))
	out, err := root.Execute(flow.Agent(New(m), 5))
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, `tool "rm" is not available`, out[0].Text())
	assert.Equal(t, model.RoleUser, out[0].Payload[PayloadKeyRole])
	assert.Zero(t, calls.Load())
}

func TestPolicy_InstructionsTemplate(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	m.Script(model.Response{Message: model.Message{Content: "ok"}})

	p := New(m, func(o *Options) {
		o.Name = "planner"
		o.Instructions = "Answer in {{.lang | upper}}."
	})

	reg := core.NewRegistry()
	action := core.NewAction("planner", map[string]any{"prompt": "hi", "lang": "en"})
	root, err := core.NewRootContext(context.Background(), reg, action, func(o *core.RootOptions) { o.Logger = logging.NoOpLogger{} })
	require.NoError(t, err)

	out, err := root.Execute(p)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].Text())
	assert.Equal(t, "planner", out[0].Actor)

	requests := m.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "Answer in EN.", requests[0].Instructions)
	assert.Empty(t, requests[0].Tools)
	assert.Equal(t, core.KindInternal, p.Metadata().Kind)
}

func TestPolicy_ModelErrorIsFatal(t *testing.T) {
	m := model.NewMockModel("mock", "test")

	reg := core.NewRegistry()
	root, err := core.NewRootContext(context.Background(), reg, core.NewAction("planner", nil), func(o *core.RootOptions) { o.Logger = logging.NoOpLogger{} })
	require.NoError(t, err)

	_, err = root.Execute(New(m))
	assert.ErrorContains(t, err, "model mock")
}

func TestMessages_FromLedger(t *testing.T) {
	p := New(model.NewMockModel("mock", "test"), func(o *Options) { o.Name = "planner" })

	l := testutil.NewLedgerBuilder().
		Message("user", "compute").
		Message("planner", "let me check").
		Call("planner", "adder", map[string]any{"a": 1, "b": 2}, "c1").
		Call("planner", "search", map[string]any{"q": "x"}, "c2").
		Result("adder", map[string]any{"sum": 3}, "c1").
		ToolError("search", "EXECUTION_ERROR", "offline", "c2").
		Text("system", map[string]any{"content": "be nice", "role": "system"}).
		Build(t)

	msgs, err := p.messages(l)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "compute"}, msgs[0])

	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "let me check", msgs[1].Content)
	require.Len(t, msgs[1].ToolCalls, 2)
	assert.Equal(t, "c2", msgs[1].ToolCalls[1].ID)

	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.False(t, msgs[2].IsError)
	assert.Equal(t, "c2", msgs[3].ToolCallID)
	assert.True(t, msgs[3].IsError)

	assert.Equal(t, model.RoleSystem, msgs[4].Role)
}

func TestArguments(t *testing.T) {
	assert.Equal(t, map[string]any{}, arguments(""))
	assert.Equal(t, map[string]any{"a": float64(1)}, arguments(`{"a":1}`))
	assert.Equal(t, map[string]any{"arguments": "{oops"}, arguments("{oops"))
}
