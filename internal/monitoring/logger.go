// Package monitoring holds the replaceable diagnostic logger shared by the
// library packages of the environment manager.
package monitoring

import (
	"log"
	"sync/atomic"
)

// LogFunc is the printf-style signature used by every component logger.
type LogFunc func(format string, v ...interface{})

var current atomic.Pointer[LogFunc]

func init() {
	f := LogFunc(log.Printf)
	current.Store(&f)
}

// Logf writes through the currently installed logger. It defaults to
// log.Printf.
func Logf(format string, v ...interface{}) {
	(*current.Load())(format, v...)
}

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger so tests can mute output.
func SetLogger(f LogFunc) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	current.Store(&f)
}

// Component returns a logger that prefixes every line with "[name] ".
// The returned function resolves the installed logger on each call, so
// a later SetLogger still takes effect.
func Component(name string) LogFunc {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
