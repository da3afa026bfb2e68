package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/types/logger"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/decode"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/network"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/monitor"
	sqlite "github.com/banshee-data/velodyne-cloud/internal/lidar/storage/sqlite"
	"github.com/banshee-data/velodyne-cloud/internal/monitoring"
)

const defaultQueueSize = 4

// ErrClosed is returned when submitting to a closed Processor.
var ErrClosed = errors.New("pipeline: processor closed")

// Config wires a Processor to its decoder and sinks. Every sink is
// optional.
type Config struct {
	Decoder *decode.Decoder
	// Workers above 1 decode packets of a scan concurrently.
	Workers int
	// QueueSize bounds scans waiting to be decoded.
	QueueSize int

	Stats  *network.PacketStats
	Store  *sqlite.ScanStore
	Latest *monitor.Latest
	// PCDDir receives one organized PCD file per scan when set.
	PCDDir string
}

// Result is one decoded scan.
type Result struct {
	Cloud  *l2frames.OrganizedCloud
	Stats  decode.ScanStats
	Took   time.Duration
	ScanID string // empty without a store
}

// Processor decodes queued scans on a single goroutine and fans the
// results out to the configured sinks.
type Processor struct {
	cfg   Config
	queue chan *parse.Scan
	warnf logger.Logf

	mu     sync.RWMutex
	closed bool

	seq       atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64
}

// NewProcessor validates cfg and creates a Processor.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Decoder == nil {
		return nil, errors.New("pipeline: decoder is required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PCDDir != "" {
		if err := os.MkdirAll(cfg.PCDDir, 0o755); err != nil {
			return nil, fmt.Errorf("pipeline: create pcd dir: %w", err)
		}
	}
	diagf("processor: workers=%d queue=%d store=%t pcd=%q", cfg.Workers, cfg.QueueSize, cfg.Store != nil, cfg.PCDDir)
	return &Processor{
		cfg:   cfg,
		queue: make(chan *parse.Scan, cfg.QueueSize),
		warnf: monitoring.Throttled(decode.LogPeriod),
	}, nil
}

// TrySubmit queues scan without blocking. A full queue drops the scan,
// which suits live capture where falling behind must not stall the socket.
func (p *Processor) TrySubmit(scan *parse.Scan) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- scan:
		return true
	default:
		n := p.dropped.Add(1)
		p.warnf("pipeline: decode queue full, dropped scan (%d total)", n)
		return false
	}
}

// Submit queues scan, waiting for room. Replay uses this so no scan is
// lost.
func (p *Processor) Submit(ctx context.Context, scan *parse.Scan) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- scan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting scans. Run returns once the queue drains.
func (p *Processor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

// Run decodes queued scans until the processor is closed and drained, or
// ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scan, ok := <-p.queue:
			if !ok {
				return nil
			}
			if _, err := p.Process(ctx, scan); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				opsf("scan failed: %v", err)
			}
		}
	}
}

// Process decodes one scan and delivers it to the sinks. Sink failures are
// logged and do not fail the scan.
func (p *Processor) Process(ctx context.Context, scan *parse.Scan) (*Result, error) {
	start := time.Now()
	var (
		cloud *l2frames.OrganizedCloud
		stats decode.ScanStats
		err   error
	)
	if p.cfg.Workers > 1 {
		cloud, stats, err = p.cfg.Decoder.UnpackConcurrent(ctx, scan, p.cfg.Workers)
	} else {
		cloud, stats, err = p.cfg.Decoder.Unpack(ctx, scan)
	}
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	res := &Result{Cloud: cloud, Stats: stats, Took: time.Since(start)}
	seq := p.seq.Add(1)
	p.processed.Add(1)
	tracef("scan %d: %dx%d %s in %v", seq, cloud.Width, cloud.Height, stats, res.Took)

	if p.cfg.Stats != nil {
		p.cfg.Stats.AddScan(stats.PointsValid)
	}
	if p.cfg.Latest != nil {
		p.cfg.Latest.Publish(cloud, stats, res.Took)
	}
	if p.cfg.Store != nil {
		rec, err := p.cfg.Store.Record(ctx, cloud, stats, res.Took)
		if err != nil {
			p.warnf("pipeline: record scan: %v", err)
		} else {
			res.ScanID = rec.ScanID
		}
	}
	if p.cfg.PCDDir != "" {
		if err := p.writePCD(seq, cloud); err != nil {
			p.warnf("pipeline: %v", err)
		}
	}
	return res, nil
}

func (p *Processor) writePCD(seq int64, cloud *l2frames.OrganizedCloud) error {
	path := filepath.Join(p.cfg.PCDDir, fmt.Sprintf("scan-%06d.pcd", seq))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := l2frames.WritePCD(f, cloud); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Dropped returns how many scans TrySubmit discarded.
func (p *Processor) Dropped() int64 { return p.dropped.Load() }

// Processed returns how many scans were decoded.
func (p *Processor) Processed() int64 { return p.processed.Load() }
