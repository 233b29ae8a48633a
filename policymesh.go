// Package policymesh provides a high-level façade over the registry, the
// runners and the ambient services (storage, logging, tracing, metrics)
// enabling rapid construction of ledger-driven policy systems. Most
// applications interact with this package by:
//  1. Creating a Mesh via New() or NewFromEnv()
//  2. Registering policies, tools and agents
//  3. Running a root policy with Run and, for durable runs, attaching
//     out-of-band results with Complete
//
// Requests that carry a Key run durably against the configured store and can
// be resumed; requests without one run in memory.
package policymesh

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/policymesh/config"
	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/flow"
	"github.com/hupe1980/policymesh/logging"
	"github.com/hupe1980/policymesh/runner"
	"github.com/hupe1980/policymesh/tool"
)

// ErrNoStore is returned by Complete when the Mesh has no ledger store.
var ErrNoStore = errors.New("policymesh: no ledger store configured")

// Options configures the Mesh instance.
type Options struct {
	// Store persists keyed runs. Nil runs every request in memory.
	Store core.LedgerStore
	// MaxTurns bounds the agents registered with RegisterAgent.
	MaxTurns int
	// MaxCalls limits executed sub-calls per run. 0 disables the limit.
	MaxCalls int
	// MaxParallel limits concurrently resolved sibling calls. 0 disables the limit.
	MaxParallel int
	// Decorators wrap every root policy, outermost first.
	Decorators []core.Decorator

	// Logger (defaults to NoOp logger if nil)
	Logger         logging.Logger
	TracerProvider trace.TracerProvider
	Observer       core.Observer
}

// Mesh is the high-level façade aggregating the registry and the runners.
type Mesh struct {
	opts     Options
	registry *core.Registry
	closer   io.Closer

	once    sync.Once
	memory  *runner.Memory
	durable *runner.Durable
}

// New creates a new Mesh with optional overrides.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		MaxTurns: flow.DefaultMaxTurns,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Mesh{opts: opts, registry: core.NewRegistry()}
}

// NewFromEnv creates a Mesh configured from POLICYMESH_* environment
// variables. Overrides are applied after the environment. Close releases the
// configured store.
func NewFromEnv(optFns ...func(o *Options)) (*Mesh, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}

	store, closer, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}

	m := New(append([]func(o *Options){func(o *Options) {
		o.Store = store
		o.MaxTurns = cfg.MaxTurns
		o.MaxCalls = cfg.MaxCalls
		o.MaxParallel = cfg.MaxParallel
		o.Logger = logger
	}}, optFns...)...)
	m.closer = closer

	return m, nil
}

// Registry returns the registry backing the Mesh.
func (m *Mesh) Registry() *core.Registry { return m.registry }

// Register adds a policy under name.
func (m *Mesh) Register(name string, p core.Policy, metadata ...core.Metadata) error {
	return m.registry.Register(name, p, metadata...)
}

// RegisterTools registers each tool as a policy under its name.
func (m *Mesh) RegisterTools(tools ...tool.Tool) error {
	return tool.Register(m.registry, tools...)
}

// RegisterAgent registers p wrapped as a tool-using agent bounded by
// Options.MaxTurns.
func (m *Mesh) RegisterAgent(name string, p core.Policy, metadata ...core.Metadata) error {
	if len(metadata) == 0 {
		metadata = []core.Metadata{{Kind: core.KindInternal}}
	}
	return m.registry.Register(name, flow.Agent(p, m.opts.MaxTurns), metadata...)
}

// Run executes req. The registry is frozen by the first Run.
func (m *Mesh) Run(ctx context.Context, req core.RunRequest) (*core.RunResult, error) {
	m.init()

	if req.Key != "" && m.durable != nil {
		return m.durable.Run(ctx, req)
	}

	return m.memory.Run(ctx, req)
}

// Complete attaches steps as the results of a pending call of the durable
// run stored under key.
func (m *Mesh) Complete(ctx context.Context, key string, pending core.PendingCall, steps ...core.Step) error {
	m.init()

	if m.durable == nil {
		return ErrNoStore
	}

	return m.durable.Complete(ctx, key, pending, steps...)
}

// Cancel cancels an in-flight run.
func (m *Mesh) Cancel(runID string) error {
	m.init()

	if err := m.memory.Cancel(runID); err == nil || m.durable == nil {
		return err
	}

	return m.durable.Cancel(runID)
}

// Close releases the resources opened by NewFromEnv.
func (m *Mesh) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

func (m *Mesh) init() {
	m.once.Do(func() {
		runnerOpts := func(o *runner.Options) {
			o.MaxCalls = m.opts.MaxCalls
			o.MaxParallel = m.opts.MaxParallel
			o.Decorators = m.opts.Decorators
			o.Logger = m.opts.Logger
			o.TracerProvider = m.opts.TracerProvider
			if m.opts.Observer != nil {
				o.Observer = m.opts.Observer
			}
		}

		m.memory = runner.NewMemory(m.registry, runnerOpts)
		if m.opts.Store != nil {
			m.durable = runner.NewDurable(m.registry, m.opts.Store, runnerOpts)
		}
	})
}
