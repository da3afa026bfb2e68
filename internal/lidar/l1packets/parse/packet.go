package parse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

/*
Velodyne data packet layout (1206-byte UDP payload)

├── Data blocks (1200 bytes) - 12 blocks × 100 bytes each, starting at offset 0
│   └── Each block: 2-byte bank header + 2-byte rotation + 32 returns × 3 bytes
│       (2-byte distance in resolution units + 1-byte intensity), little-endian
└── Status trailer (6 bytes)
    ├── GPS timestamp (4 bytes) - microseconds past the top of the hour
    ├── Return mode (1 byte)    - 0x37 strongest, 0x38 last, 0x39 dual
    └── Product ID (1 byte)     - sensor model

Legacy HDL-32E/HDL-64E packets carry one rotation per block for all 32
returns; the HDL-64E alternates upper (0xEEFF) and lower (0xDDFF) bank
blocks. VLP-16 blocks always use the upper bank header and hold two firing
sequences of 16 channels; in dual-return mode consecutive block pairs share a
rotation and hold the strongest and last returns.
*/
const (
	PacketSize        = 1206
	BlocksPerPacket   = 12
	ScansPerBlock     = 32
	RawScanSize       = 3
	BlockHeaderSize   = 2
	RotationSize      = 2
	BlockDataSize     = ScansPerBlock * RawScanSize
	BlockSize         = BlockHeaderSize + RotationSize + BlockDataSize
	StatusOffset      = BlocksPerPacket * BlockSize
	PacketStatusSize  = PacketSize - StatusOffset
	ScansPerPacket    = ScansPerBlock * BlocksPerPacket
	RotationMaxUnits  = 36000 // hundredths of a degree per revolution
	ReturnModeOffset  = StatusOffset + 4
	ProductIDOffset   = StatusOffset + 5
	UpperBank         = 0xeeff // bytes 0xFF 0xEE on the wire
	LowerBank         = 0xddff // bytes 0xFF 0xDD on the wire
	LowerBankOrigin   = 32     // first hardware laser number of the lower bank
	MaxGPSTimestampUs = 3600 * 1000000
)

// ReturnMode is the factory byte describing which returns a packet carries.
type ReturnMode uint8

const (
	ReturnStrongest ReturnMode = 0x37
	ReturnLast      ReturnMode = 0x38
	ReturnDual      ReturnMode = 0x39
)

func (m ReturnMode) String() string {
	switch m {
	case ReturnStrongest:
		return "strongest"
	case ReturnLast:
		return "last"
	case ReturnDual:
		return "dual"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(m))
	}
}

// ProductID identifies the sensor model that produced a packet.
type ProductID uint8

const (
	ProductHDL32E ProductID = 0x21
	ProductVLP16  ProductID = 0x22
	ProductPuckLT ProductID = 0x23
	ProductPuckHi ProductID = 0x24
	ProductVLP32C ProductID = 0x28
)

// ErrShortPacket is returned when a buffer cannot hold a full data packet.
var ErrShortPacket = errors.New("short packet")

// Return is one distance/intensity record.
type Return struct {
	Distance  uint16 // distance resolution units, 0 = no return
	Intensity uint8
}

// Block is one 100-byte data block.
type Block struct {
	Header   uint16
	Rotation uint16 // hundredths of a degree, nominally [0, 35999]
	Returns  [ScansPerBlock]Return
}

// Status is the 6-byte packet trailer.
type Status struct {
	GPSTimestamp uint32 // microseconds past the hour
	ReturnMode   ReturnMode
	ProductID    ProductID
}

// RawPacket is a decoded view of one data packet. It preserves the wire
// values exactly; no corrections are applied.
type RawPacket struct {
	Blocks [BlocksPerPacket]Block
	Status Status
}

// ParsePacket extracts every field of a data packet. Buffers longer than
// PacketSize are accepted and the excess ignored; shorter ones fail.
func ParsePacket(data []byte) (*RawPacket, error) {
	if len(data) < PacketSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrShortPacket, PacketSize, len(data))
	}

	pkt := &RawPacket{}
	for b := 0; b < BlocksPerPacket; b++ {
		parseBlock(data[b*BlockSize:(b+1)*BlockSize], &pkt.Blocks[b])
	}
	pkt.Status = parseStatus(data[StatusOffset:PacketSize])
	tracePacket(pkt)
	return pkt, nil
}

func parseBlock(data []byte, blk *Block) {
	blk.Header = binary.LittleEndian.Uint16(data[0:2])
	blk.Rotation = binary.LittleEndian.Uint16(data[2:4])
	offset := BlockHeaderSize + RotationSize
	for i := 0; i < ScansPerBlock; i++ {
		blk.Returns[i] = Return{
			Distance:  binary.LittleEndian.Uint16(data[offset : offset+2]),
			Intensity: data[offset+2],
		}
		offset += RawScanSize
	}
}

func parseStatus(data []byte) Status {
	return Status{
		GPSTimestamp: binary.LittleEndian.Uint32(data[0:4]),
		ReturnMode:   ReturnMode(data[4]),
		ProductID:    ProductID(data[5]),
	}
}

// MarshalBinary encodes the packet in the wire layout ParsePacket reads.
func (p *RawPacket) MarshalBinary() ([]byte, error) {
	data := make([]byte, PacketSize)
	for b := range p.Blocks {
		blk := &p.Blocks[b]
		base := b * BlockSize
		binary.LittleEndian.PutUint16(data[base:], blk.Header)
		binary.LittleEndian.PutUint16(data[base+2:], blk.Rotation)
		offset := base + BlockHeaderSize + RotationSize
		for i := range blk.Returns {
			binary.LittleEndian.PutUint16(data[offset:], blk.Returns[i].Distance)
			data[offset+2] = blk.Returns[i].Intensity
			offset += RawScanSize
		}
	}
	binary.LittleEndian.PutUint32(data[StatusOffset:], p.Status.GPSTimestamp)
	data[ReturnModeOffset] = byte(p.Status.ReturnMode)
	data[ProductIDOffset] = byte(p.Status.ProductID)
	return data, nil
}

// IsDualReturn reports whether the packet was produced in dual-return mode.
func (p *RawPacket) IsDualReturn() bool {
	return p.Status.ReturnMode == ReturnDual
}

// TopOfHourTime combines the packet's GPS timestamp with the hour of ref,
// choosing the hour that places the result closest to ref. This resolves
// packets that straddle an hour boundary relative to their receipt time.
func (s Status) TopOfHourTime(ref time.Time) (time.Time, error) {
	if s.GPSTimestamp >= MaxGPSTimestampUs {
		return time.Time{}, fmt.Errorf("gps timestamp %d µs exceeds one hour", s.GPSTimestamp)
	}
	hour := ref.Truncate(time.Hour)
	t := hour.Add(time.Duration(s.GPSTimestamp) * time.Microsecond)
	switch d := t.Sub(ref); {
	case d > 30*time.Minute:
		t = t.Add(-time.Hour)
	case d < -30*time.Minute:
		t = t.Add(time.Hour)
	}
	return t, nil
}
