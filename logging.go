package hizcull

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger is the leveled logger every package takes. A nil Logger is never
// passed down; constructors run it through OrNop first.
type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// DefaultLogger prints "[prefix] LEVEL: msg" lines with microsecond
// timestamps. Debug and info go to the out sink, warnings and errors to the
// err sink. Loggers derived with Named share the mutex and debug flag.
type DefaultLogger struct {
	mu     *sync.Mutex
	debug  *bool
	prefix string
	out    *log.Logger
	err    *log.Logger
}

// NewDefaultLogger logs to stdout and stderr.
func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	return NewWriterLogger(prefix, debug, os.Stdout, os.Stderr)
}

// NewWriterLogger is NewDefaultLogger with explicit sinks. Tests pass one
// buffer for both to capture the whole stream in order.
func NewWriterLogger(prefix string, debug bool, out, errOut io.Writer) *DefaultLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	return &DefaultLogger{
		mu:     &sync.Mutex{},
		debug:  &debug,
		prefix: prefix,
		out:    log.New(out, "", flags),
		err:    log.New(errOut, "", flags),
	}
}

// Named returns a child logger for one subsystem, e.g. "hizrt/cull". It writes
// to the parent's sinks, and SetDebug on either one affects both.
func (l *DefaultLogger) Named(name string) *DefaultLogger {
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "/" + name
	}
	return &DefaultLogger{
		mu:     l.mu,
		debug:  l.debug,
		prefix: prefix,
		out:    l.out,
		err:    l.err,
	}
}

func (l *DefaultLogger) DebugEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.debug
}

func (l *DefaultLogger) SetDebug(enabled bool) {
	l.mu.Lock()
	*l.debug = enabled
	l.mu.Unlock()
}

func (l *DefaultLogger) prefixf(level string, format string, args ...any) string {
	if l.prefix != "" {
		return fmt.Sprintf("[%s] %s: %s", l.prefix, level, fmt.Sprintf(format, args...))
	}
	return fmt.Sprintf("%s: %s", level, fmt.Sprintf(format, args...))
}

// Debugf is dropped unless debug is on.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	if !l.DebugEnabled() {
		return
	}
	l.out.Print(l.prefixf("DEBUG", format, args...))
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	l.out.Print(l.prefixf("INFO", format, args...))
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.err.Print(l.prefixf("WARN", format, args...))
}

func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.err.Print(l.prefixf("ERROR", format, args...))
}

// nopLogger discards everything. Library code falls back to it when the
// caller passes no logger.
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

// Named scopes l under name when l is a *DefaultLogger. Other loggers are
// returned as is, and nil becomes the no-op logger.
func Named(l Logger, name string) Logger {
	if d, ok := l.(*DefaultLogger); ok && d != nil {
		return d.Named(name)
	}
	return OrNop(l)
}
