package core

import "github.com/hupe1980/policymesh/logging"

// loggerAdapter is the logging surface embedded in every InvocationContext.
// Records of concurrent runs interleave in one sink, so each record carries
// the run ID; call sites add the scope and call identity. A nil logger is
// replaced by a NoOpLogger.
type loggerAdapter struct {
	logger logging.Logger
	runID  string
}

// newLoggerAdapter binds l to runID. A *logging.StructuredLogger carries the
// run as its own attribute; other loggers get a leading run_id pair.
func newLoggerAdapter(l logging.Logger, runID string) *loggerAdapter {
	switch sl := l.(type) {
	case nil:
		return &loggerAdapter{logger: logging.NoOpLogger{}}
	case *logging.StructuredLogger:
		return &loggerAdapter{logger: sl.WithRun(runID, "")}
	default:
		return &loggerAdapter{logger: l, runID: runID}
	}
}

// Logger returns the run-bound logger.
func (l *loggerAdapter) Logger() logging.Logger {
	return l.logger
}

func (l *loggerAdapter) fields(args []any) []any {
	if l.runID == "" {
		return args
	}
	return append([]any{"run_id", l.runID}, args...)
}

// LogDebug logs a debug message.
func (l *loggerAdapter) LogDebug(msg string, args ...any) {
	l.logger.Debug(msg, l.fields(args)...)
}

// LogInfo logs an info message.
func (l *loggerAdapter) LogInfo(msg string, args ...any) {
	l.logger.Info(msg, l.fields(args)...)
}

// LogWarn logs a warning message.
func (l *loggerAdapter) LogWarn(msg string, args ...any) {
	l.logger.Warn(msg, l.fields(args)...)
}

// LogError logs an error message.
func (l *loggerAdapter) LogError(msg string, args ...any) {
	l.logger.Error(msg, l.fields(args)...)
}
