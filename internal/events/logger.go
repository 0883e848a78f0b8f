package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger provides structured logging for key lifecycle events in a
// tier or wrapper process, separate from the per-process log store
// (internal/logstore) which persists job stdout/stderr and metrics.
type EventLogger struct {
	logger *slog.Logger
	ident  string
	mode   string
}

// NewEventLogger creates a new EventLogger with JSON output to stdout.
// It includes base attributes: ident and mode ("tier" or "wrapper").
func NewEventLogger(ident, mode string) *EventLogger {
	return newEventLogger(ident, mode, os.Stdout)
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to
// a custom writer. Useful for testing or redirecting output.
func NewEventLoggerWithWriter(ident, mode string, w io.Writer) *EventLogger {
	return newEventLogger(ident, mode, w)
}

func newEventLogger(ident, mode string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With("ident", ident, "mode", mode)
	return &EventLogger{logger: logger, ident: ident, mode: mode}
}

// LogStateTransition logs a tier or wrapper lifecycle state change, e.g.
// CONNECT->EXPAND or EXEC->MONITOR.
func (el *EventLogger) LogStateTransition(from, to string) {
	el.logger.Info("state_transition",
		"from", from,
		"to", to,
	)
}

// LogReconnect logs a reconnection attempt to the parent tier.
// event: "reconnect"
// Attributes: attempt, reason, backoff_ms
func (el *EventLogger) LogReconnect(attempt int, reason string, backoffMs int64) {
	el.logger.Info("reconnect",
		"attempt", attempt,
		"reason", reason,
		"backoff_ms", backoffMs,
	)
}

// LogChildLaunched logs when a tier launches a child through its
// scheduler.
// event: "child_launched"
// Attributes: child_ident, child_mode
func (el *EventLogger) LogChildLaunched(childIdent, childMode string) {
	el.logger.Info("child_launched",
		"child_ident", childIdent,
		"child_mode", childMode,
	)
}

// LogChildAborted logs when the dependency resolver discards a PENDING
// child without launching it.
// event: "child_aborted"
// Attributes: child_ident, reason
func (el *EventLogger) LogChildAborted(childIdent, reason string) {
	el.logger.Warn("child_aborted",
		"child_ident", childIdent,
		"reason", reason,
	)
}

// LogChildComplete logs when a child reports its terminal result.
// event: "child_complete"
// Attributes: child_ident, result, exit_code
func (el *EventLogger) LogChildComplete(childIdent, result string, exitCode int) {
	el.logger.Info("child_complete",
		"child_ident", childIdent,
		"result", result,
		"exit_code", exitCode,
	)
}

// LogConnectBackTimeout logs when a launched child never registers
// within the connect-back grace period, forcing an abort.
// event: "connect_back_timeout"
// Attributes: child_ident, grace_ms
func (el *EventLogger) LogConnectBackTimeout(childIdent string, graceMs int64) {
	el.logger.Warn("connect_back_timeout",
		"child_ident", childIdent,
		"grace_ms", graceMs,
	)
}

// LogStopRequested logs when a stop is received, locally or forwarded
// from a parent.
// event: "stop_requested"
// Attributes: forwarded
func (el *EventLogger) LogStopRequested(forwarded bool) {
	el.logger.Warn("stop_requested",
		"forwarded", forwarded,
	)
}

// LogOutcome logs the terminal result a tier or wrapper reports
// upward.
// event: "outcome"
// Attributes: result, exit_code, db_file
func (el *EventLogger) LogOutcome(result string, exitCode int, dbFile string) {
	el.logger.Info("outcome",
		"result", result,
		"exit_code", exitCode,
		"db_file", dbFile,
	)
}

// Global logger management, used by components that do not carry an
// EventLogger through their constructor (e.g. package-level helpers).
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
	noopLogger   *EventLogger
	noopOnce     sync.Once
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns the shared no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns a shared event logger that discards all
// events. Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	noopOnce.Do(func() {
		handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
		noopLogger = &EventLogger{logger: slog.New(handler)}
	})
	return noopLogger
}
