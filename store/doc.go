// Package store groups the core.LedgerStore implementations.
//
// The dispatch core only depends on the core.LedgerStore interface; the
// subpackages provide concrete persistence engines:
//
//   - memory: volatile process-local map, for tests and ephemeral runs
//   - file: one JSON or YAML document per key in a directory
//   - sqlite: one row per step in an SQLite database
//
// All implementations return an empty ledger for unknown keys and replace the
// stored ledger atomically on Save.
package store
