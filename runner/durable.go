package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/policymesh/core"
)

// Durable persists every scope ledger of a run under the run key. Running the
// same key again resumes it: recorded results are replayed and only the
// remaining work is executed.
type Durable struct {
	*base
	store core.LedgerStore
}

var _ core.Runner = (*Durable)(nil)

// NewDurable constructs a durable runner over store. The registry is frozen.
func NewDurable(registry *core.Registry, store core.LedgerStore, optFns ...func(o *Options)) *Durable {
	return &Durable{base: newBase(registry, optFns...), store: store}
}

// Run executes or resumes the run identified by req.Key. A suspended run
// returns StatusSuspended with the pending calls and a nil error.
func (d *Durable) Run(ctx context.Context, req core.RunRequest) (*core.RunResult, error) {
	if strings.TrimSpace(req.Key) == "" {
		return nil, core.ErrMissingKey
	}

	if d.store == nil {
		return nil, fmt.Errorf("durable run %q: storage is not configured", req.Key)
	}

	return d.execute(ctx, req, d.store, req.Key)
}

// Complete records steps as the results of a pending call of the run stored
// under key. Resume the run with a fresh Run using the same key.
func (d *Durable) Complete(ctx context.Context, key string, pending core.PendingCall, steps ...core.Step) error {
	if strings.TrimSpace(key) == "" {
		return core.ErrMissingKey
	}

	storeKey := key + pending.Scope

	l, err := d.store.Load(ctx, storeKey)
	if err != nil {
		return fmt.Errorf("load scope %q: %w", pending.Scope, err)
	}

	l, err = core.CompleteCall(l, pending.CallID, steps...)
	if err != nil {
		return err
	}

	if err := d.store.Save(ctx, storeKey, l); err != nil {
		return fmt.Errorf("save scope %q: %w", pending.Scope, err)
	}

	d.opts.Logger.Info("run.call.completed", "key", key, "policy", pending.Policy, "call_id", pending.CallID, "results", len(steps))

	return nil
}
