package parse

import (
	"io"
	"log"
	"sync/atomic"
)

// DebugPacketLimit is how many packets are traced after SetLogWriters.
const DebugPacketLimit = 5

var (
	diagLogger  *log.Logger
	traceLogger *log.Logger

	tracedPackets atomic.Int32
)

// SetLogWriters configures the diag and trace streams for the parse package
// and restarts first-packet tracing. Pass nil for any writer to disable that
// stream.
func SetLogWriters(diag, trace io.Writer) {
	diagLogger = newLogger("[parse] ", diag)
	traceLogger = newLogger("[parse] ", trace)
	tracedPackets.Store(0)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// diagf logs to the diag stream (sensor identification).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (high-frequency packet telemetry).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}

// tracePacket logs the layout of the first DebugPacketLimit packets.
func tracePacket(p *RawPacket) {
	if diagLogger == nil && traceLogger == nil {
		return
	}
	n := tracedPackets.Add(1)
	if n > DebugPacketLimit {
		return
	}
	if n == 1 {
		diagf("first packet: product=0x%02x mode=%s", uint8(p.Status.ProductID), p.Status.ReturnMode)
	}
	first, last := &p.Blocks[0], &p.Blocks[BlocksPerPacket-1]
	tracef("packet %d: gps=%dus mode=%s block0 header=0x%04x rot=%d block11 header=0x%04x rot=%d",
		n, p.Status.GPSTimestamp, p.Status.ReturnMode, first.Header, first.Rotation, last.Header, last.Rotation)
}

// DO NOT add Debugf, that's an anti-pattern. Each callsite needs to use diagf or tracef.
