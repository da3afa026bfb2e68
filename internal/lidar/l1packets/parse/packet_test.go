package parse

import (
	"errors"
	"testing"
	"time"
)

func samplePacket() *RawPacket {
	p := &RawPacket{}
	for b := range p.Blocks {
		p.Blocks[b].Header = UpperBank
		if b%2 == 1 {
			p.Blocks[b].Header = LowerBank
		}
		p.Blocks[b].Rotation = uint16(b * 1000)
		for i := range p.Blocks[b].Returns {
			p.Blocks[b].Returns[i] = Return{Distance: uint16(b*100 + i), Intensity: uint8(i + b)}
		}
	}
	p.Status = Status{GPSTimestamp: 123456789, ReturnMode: ReturnDual, ProductID: ProductVLP16}
	return p
}

func TestLayoutConstants(t *testing.T) {
	if BlockSize != 100 {
		t.Errorf("BlockSize = %d, want 100", BlockSize)
	}
	if StatusOffset != 1200 {
		t.Errorf("StatusOffset = %d, want 1200", StatusOffset)
	}
	if PacketStatusSize != 6 {
		t.Errorf("PacketStatusSize = %d, want 6", PacketStatusSize)
	}
	if ScansPerPacket != 384 {
		t.Errorf("ScansPerPacket = %d, want 384", ScansPerPacket)
	}
}

func TestParsePacket_WireLayout(t *testing.T) {
	data, err := samplePacket().MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	// Upper bank header is 0xFF 0xEE on the wire.
	if data[0] != 0xFF || data[1] != 0xEE {
		t.Errorf("block 0 header bytes = %02x %02x, want ff ee", data[0], data[1])
	}
	if data[BlockSize] != 0xFF || data[BlockSize+1] != 0xDD {
		t.Errorf("block 1 header bytes = %02x %02x, want ff dd", data[BlockSize], data[BlockSize+1])
	}
	// Block 1 rotation 1000 = 0x03E8 little-endian.
	if data[BlockSize+2] != 0xE8 || data[BlockSize+3] != 0x03 {
		t.Errorf("block 1 rotation bytes = %02x %02x", data[BlockSize+2], data[BlockSize+3])
	}
	if data[1204] != 0x39 {
		t.Errorf("return mode byte = %#x, want 0x39", data[1204])
	}

	pkt, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if pkt.Blocks[3].Header != LowerBank || pkt.Blocks[4].Header != UpperBank {
		t.Errorf("headers = %#x, %#x", pkt.Blocks[3].Header, pkt.Blocks[4].Header)
	}
	if pkt.Blocks[7].Rotation != 7000 {
		t.Errorf("rotation = %d, want 7000", pkt.Blocks[7].Rotation)
	}
	if got := pkt.Blocks[5].Returns[31]; got.Distance != 531 || got.Intensity != 36 {
		t.Errorf("block 5 return 31 = %+v", got)
	}
	if pkt.Status.GPSTimestamp != 123456789 || !pkt.IsDualReturn() || pkt.Status.ProductID != ProductVLP16 {
		t.Errorf("status = %+v", pkt.Status)
	}
}

func TestParsePacket_Short(t *testing.T) {
	_, err := ParsePacket(make([]byte, PacketSize-1))
	if !errors.Is(err, ErrShortPacket) {
		t.Errorf("err = %v, want ErrShortPacket", err)
	}
}

func TestParsePacket_TrailingBytesIgnored(t *testing.T) {
	data, _ := samplePacket().MarshalBinary()
	data = append(data, 0xAA, 0xBB)
	pkt, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if pkt.Status.ProductID != ProductVLP16 {
		t.Errorf("ProductID = %#x", pkt.Status.ProductID)
	}
}

func TestReturnModeString(t *testing.T) {
	tests := map[ReturnMode]string{
		ReturnStrongest: "strongest",
		ReturnLast:      "last",
		ReturnDual:      "dual",
		0x10:            "unknown(0x10)",
	}
	for mode, want := range tests {
		if got := mode.String(); got != want {
			t.Errorf("%#x.String() = %q, want %q", uint8(mode), got, want)
		}
	}
}

func TestTopOfHourTime(t *testing.T) {
	ref := time.Date(2026, 3, 1, 10, 59, 59, 0, time.UTC)

	tests := []struct {
		name string
		us   uint32
		want time.Time
	}{
		{"same hour", 59*60*1000000 + 58*1000000, time.Date(2026, 3, 1, 10, 59, 58, 0, time.UTC)},
		{"sensor rolled over", 500000, time.Date(2026, 3, 1, 11, 0, 0, 500000000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Status{GPSTimestamp: tt.us}.TopOfHourTime(ref)
			if err != nil {
				t.Fatalf("TopOfHourTime: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := (Status{GPSTimestamp: MaxGPSTimestampUs}).TopOfHourTime(ref); err == nil {
		t.Error("expected error for timestamp beyond one hour")
	}
}

func TestNewScan(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	s := NewScan("velodyne", []Packet{{Stamp: t0}, {Stamp: t0.Add(time.Millisecond)}})
	if !s.Stamp.Equal(t0) || s.FrameID != "velodyne" || len(s.Packets) != 2 {
		t.Errorf("scan = %+v", s)
	}
	if empty := NewScan("velodyne", nil); !empty.Stamp.IsZero() {
		t.Errorf("empty scan stamp = %v", empty.Stamp)
	}
}
