package lumen

import (
	"io"
	"os"
	"sync"

	"github.com/op/go-logging"
)

type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

var defaultFormat = logging.MustStringFormatter(
	`%{color}[%{time:15:04:05.000}] [%{module}] [%{level:.4s}]%{color:reset} %{message}`,
)

// DefaultLogger writes leveled, module-tagged lines through a go-logging backend.
type DefaultLogger struct {
	mu      sync.Mutex
	debug   bool
	module  string
	log     *logging.Logger
	leveled logging.LeveledBackend
}

func NewDefaultLogger(module string, debug bool) *DefaultLogger {
	return NewDefaultLoggerTo(os.Stderr, module, debug)
}

// NewDefaultLoggerTo is NewDefaultLogger with an explicit sink.
func NewDefaultLoggerTo(sink io.Writer, module string, debug bool) *DefaultLogger {
	if module == "" {
		module = "lumen"
	}
	backend := logging.NewLogBackend(sink, "", 0)
	formatted := logging.NewBackendFormatter(backend, defaultFormat)
	leveled := logging.AddModuleLevel(formatted)

	l := &DefaultLogger{
		module:  module,
		log:     logging.MustGetLogger(module),
		leveled: leveled,
	}
	l.log.SetBackend(leveled)
	l.SetDebug(debug)
	return l
}

func (l *DefaultLogger) DebugEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debug
}

func (l *DefaultLogger) SetDebug(enabled bool) {
	l.mu.Lock()
	l.debug = enabled
	if enabled {
		l.leveled.SetLevel(logging.DEBUG, l.module)
	} else {
		l.leveled.SetLevel(logging.INFO, l.module)
	}
	l.mu.Unlock()
}

func (l *DefaultLogger) Debugf(format string, args ...any) {
	l.log.Debugf(format, args...)
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	l.log.Infof(format, args...)
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.log.Warningf(format, args...)
}

func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.log.Errorf(format, args...)
}

type nopLogger struct{}

func NewNopLogger() Logger                             { return &nopLogger{} }
func (n *nopLogger) DebugEnabled() bool                { return false }
func (n *nopLogger) SetDebug(enabled bool)             {}
func (n *nopLogger) Debugf(format string, args ...any) {}
func (n *nopLogger) Infof(format string, args ...any)  {}
func (n *nopLogger) Warnf(format string, args ...any)  {}
func (n *nopLogger) Errorf(format string, args ...any) {}

// OrNop returns l, or a no-op logger when l is nil. Never returns nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}
