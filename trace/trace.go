// Package trace registers a "sqlite-trace" database/sql driver that wraps
// modernc.org/sqlite and logs every statement through slog:
//
//	import _ "github.com/hazyhaar/codementor/trace"
//	db, err := dbopen.Open(path, dbopen.WithDriver(trace.DriverName))
//
// Statements log at Debug, slow ones at Warn, failures at Error. Fast
// PRAGMA statements are skipped: the change watcher polls user_version
// several times a second. Request IDs from kit are attached when present.
package trace

import (
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	sqlite "modernc.org/sqlite"
)

// DriverName is the name the tracing driver is registered under.
const DriverName = "sqlite-trace"

var (
	logger atomic.Pointer[slog.Logger]
	slow   atomic.Int64
)

// SetLogger sets the logger statements are written to. nil restores
// slog.Default().
func SetLogger(l *slog.Logger) { logger.Store(l) }

// SetSlowThreshold sets the duration above which a statement logs at Warn.
// Default: 100ms.
func SetSlowThreshold(d time.Duration) { slow.Store(int64(d)) }

func currentLogger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func init() {
	slow.Store(int64(100 * time.Millisecond))
	sql.Register(DriverName, &Driver{Driver: &sqlite.Driver{}})
}
