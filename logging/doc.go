// Package logging provides a minimal logging interface and adapters for
// policymesh.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the dispatch core and runners use for observability.
// Arguments are alternating key/value pairs, as with log/slog. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping go.uber.org/zap
//   - StructuredLogger with run/scope context and call/run helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	r := runner.NewDurable(reg, store, func(o *runner.Options) { o.Logger = logger })
//
// The interface is kept minimal so any structured logger can be plugged in.
package logging
