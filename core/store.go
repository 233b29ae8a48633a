package core

import "context"

// LedgerStore persists ledgers by key. It is the only contract the durable
// runner needs from a storage backend.
//
// Load returns an empty Ledger and a nil error for unknown keys. Save replaces
// the ledger stored under key. Implementations must be safe for concurrent use.
type LedgerStore interface {
	Load(ctx context.Context, key string) (Ledger, error)
	Save(ctx context.Context, key string, ledger Ledger) error
}
