package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
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

func TestStore(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			testutil.RunStoreSuite(t, func(t *testing.T) core.LedgerStore {
				s, err := New(t.TempDir(), func(o *Options) { o.Format = format })
				require.NoError(t, err)
				return s
			})
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New(t.TempDir(), func(o *Options) { o.Format = "toml" })
	assert.Error(t, err)
}

func TestStore_YAMLDocumentIsReadable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(dir, func(o *Options) { o.Format = FormatYAML })
	require.NoError(t, err)

	l := testutil.NewLedgerBuilder().
		Call("orchestrator", "adder", map[string]any{"a": 2, "b": 3}, "c1").
		Build(t)
	require.NoError(t, s.Save(ctx, "job/c0", l))

	keys, err := s.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"job/c0"}, keys)

	data, err := os.ReadFile(s.path("job/c0"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "key: job/c0"))
	assert.True(t, strings.Contains(string(data), "call_id: c1"))
}

func TestStore_DeleteAndEmptyKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "", testutil.NewLedgerBuilder().Message("user", "root").Build(t)))

	l, err := s.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "root", l.At(0).Text())

	require.NoError(t, s.Delete(ctx, ""))
	require.NoError(t, s.Delete(ctx, "never-saved"))

	entries, err := os.ReadDir(filepath.Clean(dir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
