// Package memory provides a volatile core.LedgerStore backed by a process
// local map.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/policymesh/core"
)

// Store is a volatile LedgerStore implementation storing ledgers in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral runs. Ledgers are immutable, so no cloning is required on
// Load or Save.
type Store struct {
	mu      sync.RWMutex
	ledgers map[string]core.Ledger
}

var _ core.LedgerStore = (*Store)(nil)

// New constructs an empty in-memory ledger store.
func New() *Store {
	return &Store{ledgers: make(map[string]core.Ledger)}
}

// Load returns the ledger stored under key, or an empty ledger.
func (s *Store) Load(ctx context.Context, key string) (core.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return core.Ledger{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledgers[key], nil
}

// Save replaces the ledger stored under key.
func (s *Store) Save(ctx context.Context, key string, l core.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledgers[key] = l

	return nil
}

// Delete removes the ledger stored under key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ledgers, key)

	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.ledgers))
	for k := range s.ledgers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
