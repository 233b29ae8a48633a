package core

import (
	"fmt"
	"sort"
	"sync"
)

// RegisteredPolicy pairs a policy with its metadata.
type RegisteredPolicy struct {
	Policy   Policy
	Metadata Metadata
}

// Registry maps policy names to policies.
//
// A Registry is built explicitly and injected into runners; there is no
// package-level default. Registration is allowed until Freeze is called,
// after which the registry is read-only and safe to share between
// concurrently running contexts.
type Registry struct {
	mu       sync.RWMutex // Protects policies and frozen
	policies map[string]RegisteredPolicy
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]RegisteredPolicy)}
}

// Register adds policy under name. The optional metadata describes the
// policy's callable surface; its Name is forced to name and its Kind defaults
// to KindTool.
func (r *Registry) Register(name string, policy Policy, metadata ...Metadata) error {
	if name == "" {
		return fmt.Errorf("%w: empty policy name", ErrInvalidPolicy)
	}

	if policy == nil {
		return fmt.Errorf("%w: policy %q is nil", ErrInvalidPolicy, name)
	}

	var md Metadata
	if len(metadata) > 0 {
		md = metadata[0]
	}

	md.Name = name
	if md.Kind == "" {
		md.Kind = KindTool
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, name)
	}

	if _, exists := r.policies[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePolicy, name)
	}

	r.policies[name] = RegisteredPolicy{Policy: policy, Metadata: md}

	return nil
}

// MustRegister is like Register but panics on error. It is meant for
// program initialization.
func (r *Registry) MustRegister(name string, policy Policy, metadata ...Metadata) *Registry {
	if err := r.Register(name, policy, metadata...); err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the policy registered under name.
func (r *Registry) Resolve(name string) (Policy, error) {
	entry, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPolicyNotFound, name)
	}
	return entry.Policy, nil
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (RegisteredPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.policies[name]
	return entry, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.policies))
	for n := range r.policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns the metadata of every policy permitted by set, sorted by
// name. Internal policies are omitted.
func (r *Registry) Describe(set ActionSet) []Metadata {
	var out []Metadata
	for _, name := range r.Names() {
		if !set.Permits(name) {
			continue
		}
		entry, _ := r.Lookup(name)
		if entry.Metadata.Kind == KindInternal {
			continue
		}
		out = append(out, entry.Metadata)
	}
	return out
}

// Freeze makes the registry read-only. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
