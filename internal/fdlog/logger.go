// Package fdlog is the ambient logging wrapper for fdtables. It adapts the
// thread-safe logrus wrapper shape used elsewhere in this codebase's
// lineage (a package-level *logrus.Logger guarded by its own mutex, rather
// than relying on logrus's global state directly) to a pure library's
// needs: no file is opened as a side effect of import, output defaults to
// stderr, and the level defaults to Warn so a caller who never configures
// logging doesn't get debug-level fd-table tracing on their terminal.
package fdlog

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// safeLogger is a thread-safe logger.
type safeLogger struct {
	logger *logrus.Logger
	mu     sync.Mutex
}

var std = &safeLogger{
	logger: func() *logrus.Logger {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return l
	}(),
}

// SetLevel changes the package-wide log level, e.g. logrus.DebugLevel to
// see per-operation fd-table tracing.
func SetLevel(level logrus.Level) {
	std.mu.Lock()
	defer std.mu.Unlock()

	std.logger.SetLevel(level)
}

// Log logs a message with the given level and fields.
func (sl *safeLogger) Log(level logrus.Level, msg string, fields logrus.Fields) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.logger.WithFields(fields).Log(level, msg)
}

// Debug logs at debug level. Used on the hot path: allocate, translate,
// close, epoll_ctl.
func Debug(msg string, fields logrus.Fields) {
	std.Log(logrus.DebugLevel, msg, fields)
}

// Warn logs at warn level. fdtables calls it where GetUnusedVirtualFd
// returns EMFILE; other caller-visible errors are returned without a log
// line. It is never used on panics — a panic here
// means the caller violated the cage-lifetime contract, not a runtime
// condition worth warning about as if it were recoverable.
func Warn(msg string, fields logrus.Fields) {
	std.Log(logrus.WarnLevel, msg, fields)
}
