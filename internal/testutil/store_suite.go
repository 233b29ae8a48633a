package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/policymesh/core"
)

// RunStoreSuite exercises the behavior every core.LedgerStore must share.
// newStore is called once per subtest and must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) core.LedgerStore) {
	t.Helper()

	ctx := context.Background()

	t.Run("missing key loads empty ledger", func(t *testing.T) {
		s := newStore(t)

		l, err := s.Load(ctx, "missing")
		require.NoError(t, err)
		assert.True(t, l.IsEmpty())
	})

	t.Run("save then load round trips", func(t *testing.T) {
		s := newStore(t)

		want := NewLedgerBuilder().
			Message("user", "hello").
			Call("orchestrator", "adder", map[string]any{"a": 2, "b": 3}, "c1").
			Result("adder", map[string]any{"sum": 5}, "c1").
			ToolError("search", "EXECUTION_ERROR", "timeout", "c2").
			Build(t)

		require.NoError(t, s.Save(ctx, "run-1", want))

		got, err := s.Load(ctx, "run-1")
		require.NoError(t, err)

		if diff := cmp.Diff(want.Steps(), got.Steps()); diff != "" {
			t.Fatalf("ledger mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("save replaces previous ledger", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Save(ctx, "k", NewLedgerBuilder().Message("a", "1").Message("a", "2").Build(t)))
		require.NoError(t, s.Save(ctx, "k", NewLedgerBuilder().Message("b", "3").Build(t)))

		got, err := s.Load(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, 1, got.Len())
		assert.Equal(t, "3", got.At(0).Text())
	})

	t.Run("keys are isolated", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Save(ctx, "job", NewLedgerBuilder().Message("a", "root").Build(t)))
		require.NoError(t, s.Save(ctx, "job/c1", NewLedgerBuilder().Message("b", "child").Build(t)))

		root, err := s.Load(ctx, "job")
		require.NoError(t, err)
		child, err := s.Load(ctx, "job/c1")
		require.NoError(t, err)

		assert.Equal(t, "root", root.At(0).Text())
		assert.Equal(t, "child", child.At(0).Text())
	})

	t.Run("concurrent saves", func(t *testing.T) {
		s := newStore(t)

		keys := []string{"a", "b", "c", "d"}

		var wg sync.WaitGroup
		for _, k := range keys {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l := NewLedgerBuilder().Message("w", k).Build(t)
				assert.NoError(t, s.Save(ctx, k, l))
			}()
		}
		wg.Wait()

		for _, k := range keys {
			l, err := s.Load(ctx, k)
			require.NoError(t, err)
			require.Equal(t, 1, l.Len())
			assert.Equal(t, k, l.At(0).Text())
		}
	})
}
