package decode

import (
	"io"
	"log"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/monitoring"
	"tailscale.com/types/logger"
)

var (
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// LogPeriod bounds how often the same warning is repeated.
const LogPeriod = time.Second

// SetLogWriters configures the diag and trace streams. Pass nil to disable a
// stream. Warnings always go through monitoring.Logf, rate limited.
func SetLogWriters(diag, trace io.Writer) {
	diagLogger = newLogger("[decode] ", diag)
	traceLogger = newLogger("[decode] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// diagf logs to the diag stream (configuration changes, decoder selection).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-packet telemetry).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}

// newWarnf returns the throttled logger for packet and transform warnings.
func newWarnf() logger.Logf {
	return monitoring.Throttled(LogPeriod)
}
