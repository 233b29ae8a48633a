package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "ledgers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) core.LedgerStore { return openTestStore(t) })
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestStore_ReopenKeepsLedgers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledgers.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "job", testutil.NewLedgerBuilder().Message("user", "persisted").Build(t)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	l, err := s.Load(ctx, "job")
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, "persisted", l.At(0).Text())
}

func TestStore_KeysAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Save(ctx, "job/c1", testutil.NewLedgerBuilder().Message("a", "1").Build(t)))
	require.NoError(t, s.Save(ctx, "job", testutil.NewLedgerBuilder().Message("a", "2").Build(t)))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job", "job/c1"}, keys)

	require.NoError(t, s.Delete(ctx, "job/c1"))

	l, err := s.Load(ctx, "job/c1")
	require.NoError(t, err)
	assert.True(t, l.IsEmpty())
}
