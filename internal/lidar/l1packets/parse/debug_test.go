package parse

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil)
	defer SetLogWriters(nil, nil)

	if diagLogger == nil {
		t.Fatal("diagLogger should be non-nil after SetLogWriters with a writer")
	}
	if traceLogger != nil {
		t.Fatal("traceLogger should be nil when passed nil writer")
	}

	SetLogWriters(nil, nil)
	if diagLogger != nil || traceLogger != nil {
		t.Fatal("all loggers should be nil after SetLogWriters(nil, nil)")
	}
}

func TestNewLogger_NilWriter(t *testing.T) {
	if logger := newLogger("[test] ", nil); logger != nil {
		t.Error("expected nil logger for nil writer")
	}
}

func TestTracePacket_FirstPacketsOnly(t *testing.T) {
	var diag, trace bytes.Buffer
	SetLogWriters(&diag, &trace)
	defer SetLogWriters(nil, nil)

	data, err := samplePacket().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < DebugPacketLimit+3; i++ {
		if _, err := ParsePacket(data); err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
	}

	if got := strings.Count(trace.String(), "packet "); got != DebugPacketLimit {
		t.Errorf("traced %d packets, want %d", got, DebugPacketLimit)
	}
	if got := strings.Count(diag.String(), "first packet"); got != 1 {
		t.Errorf("diag lines = %d, want 1", got)
	}

	// Re-arming restarts the count.
	trace.Reset()
	SetLogWriters(nil, &trace)
	if _, err := ParsePacket(data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(trace.String(), "packet 1:") {
		t.Errorf("trace after re-arm = %q", trace.String())
	}
}

func TestTracePacket_Disabled(t *testing.T) {
	SetLogWriters(nil, nil)
	data, _ := samplePacket().MarshalBinary()
	before := tracedPackets.Load()
	if _, err := ParsePacket(data); err != nil {
		t.Fatal(err)
	}
	if tracedPackets.Load() != before {
		t.Error("disabled tracing should not count packets")
	}
}
