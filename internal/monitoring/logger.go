package monitoring

import (
	"log"
	"time"

	"tailscale.com/types/logger"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// throttleCacheSize bounds the number of distinct format strings tracked by
// a throttled logger.
const throttleCacheSize = 64

// Throttled returns a logger that emits each distinct format string at most
// once per interval. Lines are delivered through Logf as it is at call time,
// so SetLogger still redirects throttled output.
func Throttled(interval time.Duration) logger.Logf {
	if interval <= 0 {
		interval = time.Second
	}
	return logger.RateLimitedFn(func(format string, args ...any) {
		Logf(format, args...)
	}, interval, 1, throttleCacheSize)
}
