package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/logging"
)

// Options holds dependency + configuration overrides passed to the runner
// constructors.
type Options struct {
	// MaxCalls limits the number of executed sub-calls per run. 0 disables
	// the limit.
	MaxCalls int
	// MaxParallel limits concurrently resolved sibling calls. 0 disables the
	// limit.
	MaxParallel int
	// Decorators wrap the root policy, outermost first.
	Decorators []core.Decorator
	// Logging services.
	Logger logging.Logger
	// Tracing services. Nil uses the global provider.
	TracerProvider trace.TracerProvider
	// Call outcome observer, e.g. a metrics collector.
	Observer core.Observer
}

// base holds what both runners share: the registry, the options and the
// table of in-flight runs. Public methods are safe for concurrent use.
type base struct {
	registry *core.Registry
	opts     Options

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

func newBase(registry *core.Registry, optFns ...func(o *Options)) *base {
	opts := Options{
		Logger:   logging.NoOpLogger{},
		Observer: core.NoOpObserver{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if registry == nil {
		registry = core.NewRegistry()
	}
	registry.Freeze()

	return &base{
		registry:   registry,
		opts:       opts,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Registry returns the frozen registry the runner resolves policies from.
func (b *base) Registry() *core.Registry { return b.registry }

// Cancel cancels an in-flight run by ID.
func (b *base) Cancel(runID string) error {
	b.mu.Lock()
	cancel, exists := b.activeRuns[runID]
	b.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// execute runs the root policy of req against store and reports the outcome.
// A suspension is returned as a result with StatusSuspended.
func (b *base) execute(ctx context.Context, req core.RunRequest, store core.LedgerStore, key string) (*core.RunResult, error) {
	policy, err := b.registry.Resolve(req.Policy)
	if err != nil {
		return nil, err
	}

	policy, err = core.Compose(policy, b.opts.Decorators...)
	if err != nil {
		return nil, err
	}

	runID := core.NewID()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.activeRuns[runID] = cancel
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.activeRuns, runID)
		b.mu.Unlock()
	}()

	action := core.NewAction(req.Policy, req.Payload).WithActions(req.Actions)

	root, err := core.NewRootContext(ctx, b.registry, action, func(o *core.RootOptions) {
		o.RunID = runID
		o.Store = store
		o.Key = key
		o.Seed = req.Ledger
		o.MaxCalls = b.opts.MaxCalls
		o.MaxParallel = b.opts.MaxParallel
		o.Logger = b.opts.Logger
		o.Observer = b.opts.Observer
		if b.opts.TracerProvider != nil {
			o.TracerProvider = b.opts.TracerProvider
		}
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	b.opts.Logger.Info("run.start", "run_id", runID, "policy", req.Policy, "key", key)

	_, err = root.Execute(policy)

	if cpErr := root.Checkpoint(); cpErr != nil && err == nil {
		err = cpErr
	}

	result := &core.RunResult{
		RunID:  runID,
		Key:    key,
		Status: core.StatusCompleted,
		Ledger: root.Ledger(),
	}

	if err != nil {
		if !core.IsSuspended(err) {
			b.opts.Logger.Error("run.error", "run_id", runID, "policy", req.Policy, "error", err.Error())
			return nil, err
		}

		var se *core.SuspendError
		if errors.As(err, &se) {
			result.Pending = se.Pending
		}
		result.Status = core.StatusSuspended

		b.opts.Logger.Info("run.suspended", "run_id", runID, "policy", req.Policy, "pending", len(result.Pending))

		return result, nil
	}

	b.opts.Logger.Info(
		"run.complete",
		"run_id", runID,
		"policy", req.Policy,
		"steps", result.Ledger.Len(),
		"calls", root.CallCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}
