package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/policymesh/logging"
)

const tracerName = "github.com/hupe1980/policymesh/core"

// RootOptions configures the root InvocationContext of a run.
type RootOptions struct {
	// RunID identifies this runner invocation in logs. Generated when empty.
	RunID string
	// Store persists every scope ledger. Nil disables persistence.
	Store LedgerStore
	// Key prefixes the storage keys of all scopes of the run.
	Key string
	// Seed holds the steps the root scope starts with. They are visible through
	// Ledger and serve as the root history when the store has none.
	Seed Ledger
	// MaxCalls bounds executed sub-calls per run. 0 means unlimited.
	MaxCalls int
	// MaxParallel bounds concurrently resolved sibling calls. 0 means unlimited.
	MaxParallel    int
	Logger         logging.Logger
	TracerProvider trace.TracerProvider
	Observer       Observer
}

// runtime is shared by all contexts of one run.
type runtime struct {
	runID       string
	key         string
	registry    *Registry
	store       LedgerStore
	tracer      trace.Tracer
	observer    Observer
	limiter     *CallLimiter
	maxParallel int
	logger      logging.Logger
}

// InvocationContext is the dispatch boundary handed to a policy invocation.
//
// Each invocation owns a private ledger scope. The live ledger holds what
// this execution has recorded so far; the history holds what a previous
// execution of the same scope persisted. Calls whose results are found in
// either are answered without running the target policy again.
//
// An InvocationContext is safe for concurrent use by the goroutines of a
// fan-out; commits to the scope ledger are serialized.
type InvocationContext struct {
	ctx    context.Context
	rt     *runtime
	scope  string
	action Action

	mu       sync.Mutex
	ledger   Ledger
	history  Ledger
	ids      map[string]int    // live step positions by id
	calls    map[string]Step   // recorded action_call steps by call id
	resolved map[string][]Step // recorded action_result steps by call id
	seen     map[string]int    // derived call digests by occurrence

	*loggerAdapter
}

// NewRootContext creates the root context of a run serving action. The
// registry is frozen. The root history is loaded from the store, falling back
// to the seed ledger. Seed steps are recorded in the root ledger up front; a
// step whose ID the ledger already holds is not recorded twice.
func NewRootContext(ctx context.Context, registry *Registry, action Action, optFns ...func(o *RootOptions)) (*InvocationContext, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrInvalidPolicy)
	}

	opts := RootOptions{
		Logger:         logging.NoOpLogger{},
		TracerProvider: otel.GetTracerProvider(),
		Observer:       NoOpObserver{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RunID == "" {
		opts.RunID = NewID()
	}

	registry.Freeze()

	rt := &runtime{
		runID:       opts.RunID,
		key:         opts.Key,
		registry:    registry,
		store:       opts.Store,
		tracer:      opts.TracerProvider.Tracer(tracerName),
		observer:    opts.Observer,
		limiter:     NewCallLimiter(opts.MaxCalls),
		maxParallel: opts.MaxParallel,
		logger:      opts.Logger,
	}

	history, err := rt.load(ctx, "")
	if err != nil {
		return nil, err
	}

	payload, err := normalizePayload(action.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: root payload: %v", ErrUnserializablePayload, err)
	}
	action.Payload = payload

	root := newInvocationContext(ctx, rt, "", action, history)

	if !opts.Seed.IsEmpty() {
		root.mu.Lock()
		_, _, err := root.commitLocked(opts.Seed.steps)
		if err == nil && history.IsEmpty() {
			root.history = root.ledger
		}
		root.mu.Unlock()

		if err != nil {
			return nil, fmt.Errorf("seed ledger: %w", err)
		}
	}

	return root, nil
}

func newInvocationContext(ctx context.Context, rt *runtime, scope string, action Action, history Ledger) *InvocationContext {
	c := &InvocationContext{
		ctx:           ctx,
		rt:            rt,
		scope:         scope,
		action:        action,
		history:       history,
		ids:           make(map[string]int),
		calls:         make(map[string]Step),
		resolved:      make(map[string][]Step),
		seen:          make(map[string]int),
		loggerAdapter: newLoggerAdapter(rt.logger, rt.runID),
	}

	for _, s := range history.steps {
		switch s.Type {
		case StepActionCall:
			c.calls[s.CallID] = s
		case StepActionResult:
			c.resolved[s.CallID] = append(c.resolved[s.CallID], s)
		}
	}

	return c
}

// Context returns the ambient cancellation context.
func (c *InvocationContext) Context() context.Context { return c.ctx }

// Done mirrors context.Context's Done.
func (c *InvocationContext) Done() <-chan struct{} { return c.ctx.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (c *InvocationContext) Err() error { return c.ctx.Err() }

// RunID returns the identifier of the current runner invocation.
func (c *InvocationContext) RunID() string { return c.rt.runID }

// Scope returns the path of this invocation's ledger scope. The root scope
// is the empty string.
func (c *InvocationContext) Scope() string { return c.scope }

// Action returns the Action this invocation serves.
func (c *InvocationContext) Action() Action { return c.action }

// Registry returns the run's registry.
func (c *InvocationContext) Registry() *Registry { return c.rt.registry }

// Ledger returns the steps recorded in this invocation's own scope.
func (c *InvocationContext) Ledger() Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger
}

// History returns the ledger a previous execution persisted for this scope.
func (c *InvocationContext) History() Ledger {
	return c.history
}

// CallCount returns how many sub-calls the run has executed so far.
func (c *InvocationContext) CallCount() int { return c.rt.limiter.Count() }

// Execute runs p in this context and commits its output to the scope ledger.
// Panics in p are returned as *PanicError.
func (c *InvocationContext) Execute(p Policy) ([]Step, error) {
	out, err := c.runPolicy(p)
	if err != nil {
		return nil, err
	}
	return c.Commit(out...)
}

// Checkpoint persists the scope ledger.
func (c *InvocationContext) Checkpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpointLocked()
}

func (c *InvocationContext) runPolicy(p Policy) (out []Step, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Policy: c.action.Policy, Value: r, Stack: debug.Stack()}
			c.LogError("policy.panic", "policy", c.action.Policy, "scope", c.scope, "recover", r)
		}
	}()

	return p.Run(c, c.action)
}

func (c *InvocationContext) child(ctx context.Context, callID string, action Action) (*InvocationContext, error) {
	scope := c.scope + "/" + callID

	history, err := c.rt.load(ctx, scope)
	if err != nil {
		return nil, err
	}

	return newInvocationContext(ctx, c.rt, scope, action, history), nil
}

// checkpointLocked saves the live ledger followed by any history steps this
// execution has not replayed yet, so a checkpoint never drops recorded work.
func (c *InvocationContext) checkpointLocked() error {
	if c.rt.store == nil {
		return nil
	}

	snapshot := c.ledger

	var leftover []Step
	for _, s := range c.history.steps {
		if _, ok := c.ids[s.ID]; !ok {
			leftover = append(leftover, s)
		}
	}

	if len(leftover) > 0 {
		snapshot = Ledger{steps: c.ledger.steps}.push(leftover...)
	}

	if err := c.rt.store.Save(context.WithoutCancel(c.ctx), c.rt.key+c.scope, snapshot); err != nil {
		return fmt.Errorf("checkpoint scope %q: %w", c.scope, err)
	}

	return nil
}

func (rt *runtime) load(ctx context.Context, scope string) (Ledger, error) {
	if rt.store == nil {
		return Ledger{}, nil
	}

	l, err := rt.store.Load(ctx, rt.key+scope)
	if err != nil {
		return Ledger{}, fmt.Errorf("load scope %q: %w", scope, err)
	}

	return l, nil
}
