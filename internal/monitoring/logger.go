// Package monitoring holds the process-wide diagnostic logger shared by the
// sweep runner, hardware drivers and HTTP handlers.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute
// it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a logger that prepends "[name] " to every message, for
// per-subsystem output such as "[sweep]" or "[mw]".
func Prefixed(name string) func(format string, v ...interface{}) {
	tag := fmt.Sprintf("[%s] ", name)
	return func(format string, v ...interface{}) {
		Logf(tag+format, v...)
	}
}
