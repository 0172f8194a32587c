package observer

import "log/slog"

// capLog forwards at most max debug records per session, then writes a
// single notice and goes quiet. Warnings and errors bypass it.
type capLog struct {
	logger *slog.Logger
	max    int
	n      int
}

func newCapLog(logger *slog.Logger, max int) *capLog {
	return &capLog{logger: logger, max: max}
}

func (l *capLog) Debug(msg string, args ...any) {
	if l.n >= l.max {
		return
	}
	l.n++
	l.logger.Debug(msg, args...)
	if l.n == l.max {
		l.logger.Debug("observer: logging limit reached, further debug logs suppressed")
	}
}
