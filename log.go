package gofat

import (
	golog "github.com/dsoprea/go-logging"
)

// Logger is the injected tracing interface spec.md section 9 calls out as
// the only process-wide concern the engine has. The volume never logs
// through a package-level global; every Volume carries (or doesn't carry)
// its own Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger discards everything; used when Options.Logger is nil.
type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{})   {}
func (noopLogger) Warningf(string, ...interface{}) {}
func (noopLogger) Errorf(string, ...interface{})   {}

// goLoggingAdapter adapts github.com/dsoprea/go-logging's session logger to
// the Logger interface, so callers who want the same structured logging the
// rest of the retrieved pack uses don't have to write their own adapter.
type goLoggingAdapter struct {
	inner *golog.LoggerType
}

// NewGoLoggingAdapter wraps a named dsoprea/go-logging logger for use as a
// Volume's Logger.
func NewGoLoggingAdapter(name string) Logger {
	return goLoggingAdapter{inner: golog.NewLogger(name)}
}

func (a goLoggingAdapter) Debugf(format string, args ...interface{}) {
	a.inner.Debugf(nil, format, args...)
}

func (a goLoggingAdapter) Warningf(format string, args ...interface{}) {
	a.inner.Warningf(nil, format, args...)
}

func (a goLoggingAdapter) Errorf(format string, args ...interface{}) {
	a.inner.Errorf(nil, format, args...)
}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
