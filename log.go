package strata

import "log"

// logf is the single channel for recoverable warnings. Per-frame failures
// (missing layers, skipped passes, deferred resizes) are reported here and
// rendering continues; nothing recoverable is ever raised as an error
// mid-frame.
var logf = log.Printf

// SetLogFunc redirects warning output, letting the host observe recovered
// errors without interrupting rendering. Passing nil restores the default
// (log.Printf).
func SetLogFunc(fn func(format string, args ...any)) {
	if fn == nil {
		logf = log.Printf
		return
	}
	logf = fn
}
