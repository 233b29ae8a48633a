// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing ledgers and exercising
// core.LedgerStore implementations. They are not intended for production
// usage.
package testutil
