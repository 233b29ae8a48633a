package policymesh

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/store/memory"
	"github.com/hupe1980/policymesh/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func adderTool(calls *atomic.Int32) tool.Tool {
	return tool.NewFunctionTool("adder", "Add two numbers", map[string]any{
		"type":     "object",
		"required": []string{"a", "b"},
	}, func(_ *core.InvocationContext, args map[string]any) (any, error) {
		calls.Add(1)
		return map[string]any{"sum": args["a"].(float64) + args["b"].(float64)}, nil
	})
}

func orchestrator(target string) core.PolicyFunc {
	return func(ctx *core.InvocationContext, _ core.Action) ([]core.Step, error) {
		for _, s := range ctx.Ledger().All() {
			if s.IsActionResult() {
				return []core.Step{core.NewMessage("orchestrator", fmt.Sprintf("sum is %v", s.Payload["sum"]))}, nil
			}
		}
		return []core.Step{core.NewActionCall("orchestrator", target, map[string]any{"a": 2, "b": 3})}, nil
	}
}

func TestMesh_RunInMemory(t *testing.T) {
	var calls atomic.Int32

	m := New()
	require.NoError(t, m.RegisterTools(adderTool(&calls)))
	require.NoError(t, m.RegisterAgent("orchestrator", orchestrator("adder")))

	res, err := m.Run(context.Background(), core.RunRequest{Policy: "orchestrator", Actions: core.Allow("adder")})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, res.Status)

	last, ok := res.Ledger.Last()
	require.True(t, ok)
	assert.Equal(t, "sum is 5", last.Text())
	assert.Equal(t, int32(1), calls.Load())

	assert.ErrorIs(t, m.Register("late", orchestrator("adder")), core.ErrRegistryFrozen)
	assert.ErrorIs(t, m.Complete(context.Background(), "k", core.PendingCall{}), ErrNoStore)
	assert.Error(t, m.Cancel("missing"))
	assert.NoError(t, m.Close())
}

func TestMesh_DurableSuspendAndComplete(t *testing.T) {
	ctx := context.Background()

	m := New(func(o *Options) { o.Store = memory.New() })
	require.NoError(t, m.Register("worker", core.Deferred()))
	require.NoError(t, m.RegisterAgent("orchestrator", orchestrator("worker")))

	req := core.RunRequest{Key: "job", Policy: "orchestrator", Actions: core.Allow("worker")}

	res, err := m.Run(ctx, req)
	require.NoError(t, err)
	require.Equal(t, core.StatusSuspended, res.Status)
	require.Len(t, res.Pending, 1)

	require.NoError(t, m.Complete(ctx, req.Key, res.Pending[0], core.NewActionResult("worker", map[string]any{"sum": 5})))

	res, err = m.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, res.Status)

	last, _ := res.Ledger.Last()
	assert.Equal(t, "sum is 5", last.Text())
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("POLICYMESH_STORE", "sqlite")
	t.Setenv("POLICYMESH_STORE_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	t.Setenv("POLICYMESH_LOG_BACKEND", "none")
	t.Setenv("POLICYMESH_MAX_TURNS", "3")

	m, err := NewFromEnv()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })

	assert.Equal(t, 3, m.opts.MaxTurns)
	assert.NotNil(t, m.opts.Store)

	t.Setenv("POLICYMESH_STORE", "carrier-pigeon")
	_, err = NewFromEnv()
	assert.Error(t, err)
}
