package runner

import (
	"context"
	"fmt"

	"github.com/hupe1980/policymesh/core"
	memstore "github.com/hupe1980/policymesh/store/memory"
)

// Memory runs policies synchronously with a fresh in-memory journal per run.
// The request ledger seeds the root history, so results recorded in it are
// replayed.
type Memory struct {
	*base
}

var _ core.Runner = (*Memory)(nil)

// NewMemory constructs an in-memory runner. The registry is frozen.
func NewMemory(registry *core.Registry, optFns ...func(o *Options)) *Memory {
	return &Memory{base: newBase(registry, optFns...)}
}

// Run executes req to completion. A suspension is returned as an error
// wrapping core.ErrSuspended.
func (m *Memory) Run(ctx context.Context, req core.RunRequest) (*core.RunResult, error) {
	result, err := m.execute(ctx, req, memstore.New(), req.Key)
	if err != nil {
		return nil, err
	}

	if result.Status == core.StatusSuspended {
		return nil, fmt.Errorf("in-memory run %s: %w", result.RunID, &core.SuspendError{Pending: result.Pending})
	}

	return result, nil
}
