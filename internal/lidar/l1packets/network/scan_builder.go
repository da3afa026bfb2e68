package network

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/timeutil"
)

// Nominal data packet rates (packets per second) by sensor model.
var packetRates = map[string]float64{
	"VLP16":  754,
	"HDL32E": 1808,
	"HDL64E": 3472.17,
}

// Laser counts by sensor model.
var modelLasers = map[string]int{
	"VLP16":  16,
	"HDL32E": 32,
	"HDL64E": 64,
}

// ResolveModel returns the canonical model name for a calibration with
// numLasers lasers. An empty model is derived from numLasers; an explicit
// model must match it. numLasers 0 skips the check.
func ResolveModel(model string, numLasers int) (string, error) {
	if model == "" {
		for m, n := range modelLasers {
			if n == numLasers {
				return m, nil
			}
		}
		return "", fmt.Errorf("no sensor model has %d lasers; set model or npackets", numLasers)
	}
	m := strings.ToUpper(model)
	n, ok := modelLasers[m]
	if !ok {
		return "", fmt.Errorf("unknown sensor model %q", model)
	}
	if numLasers > 0 && n != numLasers {
		return "", fmt.Errorf("sensor model %s has %d lasers, calibration has %d", m, n, numLasers)
	}
	return m, nil
}

// PacketsPerRotation returns how many packets cover one revolution of model
// spinning at rpm.
func PacketsPerRotation(model string, rpm float64) (int, error) {
	rate, ok := packetRates[strings.ToUpper(model)]
	if !ok {
		return 0, fmt.Errorf("unknown sensor model %q", model)
	}
	if !(rpm > 0) {
		return 0, fmt.Errorf("rpm must be positive, got %v", rpm)
	}
	frequency := rpm / 60
	return int(math.Ceil(rate / frequency)), nil
}

// ScanBuilderConfig configures a ScanBuilder.
type ScanBuilderConfig struct {
	FrameID string
	// NPackets per scan; 0 derives it from Model and RPM.
	NPackets int
	// Model may be empty, in which case it is derived from NumLasers.
	Model string
	// NumLasers is the calibration's laser count; 0 when unknown.
	NumLasers int
	RPM       float64
	// IdleFlush emits a partial scan after this long without packets.
	// Zero disables idle flushing.
	IdleFlush time.Duration
	Clock     timeutil.Clock
	// OnScan receives every completed scan, called without the builder's
	// lock held.
	OnScan func(scan *parse.Scan)
}

// ScanBuilder groups consecutive packets into scans of a fixed size.
type ScanBuilder struct {
	frameID   string
	model     string
	npackets  int
	idleFlush time.Duration
	clock     timeutil.Clock
	onScan    func(scan *parse.Scan)

	mu         sync.Mutex
	pending    []parse.Packet
	lastPacket time.Time
}

// NewScanBuilder validates cfg and derives the packet count when needed.
func NewScanBuilder(cfg ScanBuilderConfig) (*ScanBuilder, error) {
	if cfg.OnScan == nil {
		return nil, fmt.Errorf("scan builder requires OnScan")
	}
	n := cfg.NPackets
	if n < 0 {
		return nil, fmt.Errorf("npackets must be non-negative, got %d", n)
	}
	model := cfg.Model
	if model != "" || n == 0 {
		var err error
		if model, err = ResolveModel(cfg.Model, cfg.NumLasers); err != nil {
			return nil, err
		}
	}
	if n == 0 {
		var err error
		if n, err = PacketsPerRotation(model, cfg.RPM); err != nil {
			return nil, err
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ScanBuilder{
		frameID:   cfg.FrameID,
		model:     model,
		npackets:  n,
		idleFlush: cfg.IdleFlush,
		clock:     clock,
		onScan:    cfg.OnScan,
		pending:   make([]parse.Packet, 0, n),
	}, nil
}

// PacketsPerScan returns the scan size in packets.
func (b *ScanBuilder) PacketsPerScan() int { return b.npackets }

// Model returns the resolved sensor model, or "" when npackets was set
// without one.
func (b *ScanBuilder) Model() string { return b.model }

// HandlePacket implements PacketHandler.
func (b *ScanBuilder) HandlePacket(pkt parse.Packet) {
	b.mu.Lock()
	b.pending = append(b.pending, pkt)
	b.lastPacket = b.clock.Now()
	var scan *parse.Scan
	if len(b.pending) >= b.npackets {
		scan = b.takeLocked()
	}
	b.mu.Unlock()

	if scan != nil {
		b.onScan(scan)
	}
}

// Flush emits any pending packets as a partial scan.
func (b *ScanBuilder) Flush() {
	b.mu.Lock()
	scan := b.takeLocked()
	b.mu.Unlock()
	if scan != nil {
		b.onScan(scan)
	}
}

func (b *ScanBuilder) takeLocked() *parse.Scan {
	if len(b.pending) == 0 {
		return nil
	}
	scan := parse.NewScan(b.frameID, b.pending)
	b.pending = make([]parse.Packet, 0, b.npackets)
	return scan
}

// Run flushes idle partial scans until ctx is done, then flushes whatever
// is left.
func (b *ScanBuilder) Run(ctx context.Context) {
	defer b.Flush()
	if b.idleFlush <= 0 {
		<-ctx.Done()
		return
	}

	ticker := b.clock.NewTicker(b.idleFlush)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			b.mu.Lock()
			var scan *parse.Scan
			if len(b.pending) > 0 && now.Sub(b.lastPacket) >= b.idleFlush {
				scan = b.takeLocked()
			}
			b.mu.Unlock()
			if scan != nil {
				b.onScan(scan)
			}
		}
	}
}
