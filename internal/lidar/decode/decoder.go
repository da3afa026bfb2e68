package decode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"tailscale.com/types/logger"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/calibration"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
)

// ErrNilScan is returned by Unpack when called without a scan.
var ErrNilScan = errors.New("nil scan")

// Decoder turns scans of raw packets into organized point clouds. The
// calibration and angle table are shared read-only; params may be replaced
// between scans with SetParams. A Decoder is safe for concurrent Unpack calls.
type Decoder struct {
	cal         *calibration.Calibration
	table       *AngleTable
	path        calibration.DecodePath
	transformer l2frames.Transformer
	warnf       logger.Logf

	mu     sync.Mutex
	params Params
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithTransformer sets the frame transform collaborator. Without one, points
// stay in the sensor frame regardless of Params.FrameID.
func WithTransformer(t l2frames.Transformer) Option {
	return func(d *Decoder) { d.transformer = t }
}

// WithParams sets the initial params (DefaultParams otherwise).
func WithParams(p Params) Option {
	return func(d *Decoder) { d.params = p }
}

// WithWarnf replaces the rate-limited warning logger.
func WithWarnf(f logger.Logf) Option {
	return func(d *Decoder) { d.warnf = f }
}

// NewDecoder validates cal and the initial params. table may be nil, in which
// case a new AngleTable is built.
func NewDecoder(cal *calibration.Calibration, table *AngleTable, opts ...Option) (*Decoder, error) {
	if cal == nil {
		return nil, fmt.Errorf("%w: nil calibration", calibration.ErrInvalidCalibration)
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	if table == nil {
		table = NewAngleTable()
	}
	d := &Decoder{
		cal:    cal,
		table:  table,
		path:   cal.DecodePath(),
		params: DefaultParams(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.warnf == nil {
		d.warnf = newWarnf()
	}
	d.params.Gate = d.params.Gate.Normalized()
	if err := d.params.Validate(); err != nil {
		return nil, err
	}
	diagf("decoder: %d lasers, %s path, two-point=%v", cal.NumLasers, d.path, cal.TwoPtCorrectionAvailable)
	return d, nil
}

// Calibration returns the decoder's calibration.
func (d *Decoder) Calibration() *calibration.Calibration { return d.cal }

// Params returns a copy of the params currently in force.
func (d *Decoder) Params() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// SetParams replaces the params used by subsequent scans. On error the
// previous params stay in force.
func (d *Decoder) SetParams(p Params) error {
	p.Gate = p.Gate.Normalized()
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	old := d.params
	d.params = p
	d.mu.Unlock()

	if old.FrameID != p.FrameID || old.FixedFrameID != p.FixedFrameID {
		diagf("target frame %q, fixed frame %q", p.FrameID, p.FixedFrameID)
	}
	diagf("range [%.3f, %.3f] m, azimuth gate [%d, %d]", p.MinRange, p.MaxRange, p.Gate.Min, p.Gate.Max)
	return nil
}

// CloudSize returns the organized cloud dimensions for a scan of n packets.
func (d *Decoder) CloudSize(n int) (width, height int) {
	if d.path == calibration.DecodePathFiring {
		return n * FiringsPerPacket, calibration.VLP16Lasers
	}
	return n * parse.ScansPerPacket / d.cal.NumLasers, d.cal.NumLasers
}

// scanState is everything one packet decode needs. Packets write disjoint
// column ranges of cloud, so a scanState may be shared across goroutines.
type scanState struct {
	d      *Decoder
	scan   *parse.Scan
	params Params
	cloud  *l2frames.OrganizedCloud
	// transform is false when points stay in the sensor frame.
	transform bool
}

// Unpack decodes every packet of scan into a new organized cloud.
// Malformed packets are skipped and counted; they never fail the scan. If
// ctx is cancelled between packets the partially filled cloud is returned
// together with ctx.Err().
func (d *Decoder) Unpack(ctx context.Context, scan *parse.Scan) (*l2frames.OrganizedCloud, ScanStats, error) {
	st, err := d.begin(scan)
	if err != nil {
		return nil, ScanStats{}, err
	}
	var stats ScanStats
	for i := range scan.Packets {
		if err := ctx.Err(); err != nil {
			return st.cloud, stats, err
		}
		stats.Add(st.decodePacket(ctx, i))
	}
	tracef("scan %s: %s", scan.FrameID, stats)
	return st.cloud, stats, nil
}

// UnpackConcurrent is Unpack with packets spread over up to workers
// goroutines. The result is identical to Unpack.
func (d *Decoder) UnpackConcurrent(ctx context.Context, scan *parse.Scan, workers int) (*l2frames.OrganizedCloud, ScanStats, error) {
	if workers <= 1 {
		return d.Unpack(ctx, scan)
	}
	st, err := d.begin(scan)
	if err != nil {
		return nil, ScanStats{}, err
	}

	// Each job is a run of packets that starts and ends on a column
	// boundary, so no two workers touch the same column.
	group := d.packetsPerJob()
	jobs := make(chan int)
	results := make([]ScanStats, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for first := range jobs {
				last := min(first+group, len(scan.Packets))
				for i := first; i < last; i++ {
					results[w].Add(st.decodePacket(ctx, i))
				}
			}
		}(w)
	}

	var ctxErr error
	for i := 0; i < len(scan.Packets); i += group {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var stats ScanStats
	for _, r := range results {
		stats.Add(r)
	}
	tracef("scan %s: %s (%d workers)", scan.FrameID, stats, workers)
	return st.cloud, stats, ctxErr
}

// packetsPerJob is the smallest number of consecutive packets whose points
// fill whole columns. The firing path owns whole columns per packet; the
// block path needs NumLasers/gcd(384, NumLasers) packets.
func (d *Decoder) packetsPerJob() int {
	if d.path == calibration.DecodePathFiring {
		return 1
	}
	a, b := parse.ScansPerPacket, d.cal.NumLasers
	for b != 0 {
		a, b = b, a%b
	}
	return d.cal.NumLasers / a
}

func (d *Decoder) begin(scan *parse.Scan) (*scanState, error) {
	if scan == nil {
		return nil, ErrNilScan
	}
	params := d.Params()
	w, h := d.CloudSize(len(scan.Packets))
	st := &scanState{
		d:         d,
		scan:      scan,
		params:    params,
		cloud:     l2frames.NewOrganizedCloud(w, h),
		transform: params.transforms() && d.transformer != nil,
	}
	st.cloud.Stamp = scan.Stamp
	st.cloud.FrameID = scan.FrameID
	if st.transform {
		st.cloud.FrameID = params.FrameID
	}
	return st, nil
}

func (st *scanState) decodePacket(ctx context.Context, i int) ScanStats {
	pkt := st.scan.Packets[i]
	stats := ScanStats{Packets: 1}

	raw, err := parse.ParsePacket(pkt.Data)
	if err == nil {
		if st.d.path == calibration.DecodePathFiring {
			err = st.decodeFiringPacket(ctx, i, pkt.Stamp, raw, &stats)
		} else {
			err = st.decodeBlockPacket(ctx, i, pkt.Stamp, raw, &stats)
		}
	}
	if err != nil {
		stats.PacketsAborted++
		st.d.warnf("packet %d aborted: %v", i, err)
	}
	return stats
}

// store writes a corrected point to slot, transforming it first when
// required. A failed transform leaves the slot's coordinates NaN.
func (st *scanState) store(ctx context.Context, slot *l2frames.Point, c Corrected, req l2frames.TransformRequest, stats *ScanStats) {
	x, y, z := c.X, c.Y, c.Z
	if st.transform {
		v, err := st.transformPoint(ctx, req, r3.Vec{X: x, Y: y, Z: z})
		if err != nil {
			stats.TransformFailures++
			st.d.warnf("dropping point: %v", err)
			return
		}
		x, y, z = v.X, v.Y, v.Z
	}
	slot.X = float32(x)
	slot.Y = float32(y)
	slot.Z = float32(z)
	slot.Intensity = intensityByte(c.Intensity)
	stats.PointsValid++
}

func (st *scanState) transformPoint(ctx context.Context, req l2frames.TransformRequest, p r3.Vec) (r3.Vec, error) {
	req.Target = st.params.FrameID
	req.Source = st.scan.FrameID
	if st.params.TransformTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.params.TransformTimeout)
		defer cancel()
	}
	return st.d.transformer.TransformPoint(ctx, req, p)
}

// microseconds converts a fractional microsecond offset to a Duration.
func microseconds(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}
