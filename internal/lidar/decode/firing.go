package decode

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
)

// VLP-16 firing layout and timing.
const (
	FiringsPerBlock  = 2
	ScansPerFiring   = 16
	FiringsPerPacket = parse.BlocksPerPacket * FiringsPerBlock

	DSRTimeOffsetUs    = 2.304   // between lasers of one firing
	FiringTimeOffsetUs = 55.296  // between the two firings of a block
	BlockDurationUs    = 110.592 // one block
)

// firingState carries the azimuth step between blocks through a packet.
type firingState struct {
	lastAzimuthDiff float64
}

// azimuthDiff returns the rotation covered by block b, looking ahead step
// blocks when possible and otherwise reusing the previous difference.
func (s *firingState) azimuthDiff(raw *parse.RawPacket, b, step int) float64 {
	if b+step < len(raw.Blocks) {
		next := int(raw.Blocks[b+step].Rotation)
		cur := int(raw.Blocks[b].Rotation)
		s.lastAzimuthDiff = float64(wrapRotation(next - cur))
	}
	return s.lastAzimuthDiff
}

// firingColumn returns the cloud column of firing f in block b of packet p.
// Dual-return packets place the two returns of a firing in adjacent columns.
func firingColumn(p, b, f int, dual bool) int {
	base := p * FiringsPerPacket
	if dual {
		return base + (b/2)*2*FiringsPerBlock + f*2 + b%2
	}
	return base + b*FiringsPerBlock + f
}

// firingTimeUs is the offset of laser dsr of firing f from the block start.
func firingTimeUs(dsr, f int) float64 {
	return float64(dsr)*DSRTimeOffsetUs + float64(f)*FiringTimeOffsetUs
}

// correctedAzimuth interpolates the block azimuth to the firing time.
func correctedAzimuth(azimuth int, diff, tUs float64) int {
	return wrapRotation(int(math.Round(float64(azimuth) + diff*tUs/BlockDurationUs)))
}

// decodeFiringPacket is the VLP-16 decoder. Each block holds two firings of
// 16 lasers; azimuth is interpolated per laser from the next block's
// rotation. A block without the upper bank header aborts the rest of the
// packet.
func (st *scanState) decodeFiringPacket(ctx context.Context, p int, stamp time.Time, raw *parse.RawPacket, stats *ScanStats) error {
	cal := st.d.cal
	res := cal.DistanceResolution
	dual := raw.IsDualReturn()
	step := 1
	if dual {
		step = 2
	}

	var fs firingState
	for b := range raw.Blocks {
		blk := &raw.Blocks[b]
		if blk.Header != parse.UpperBank {
			return fmt.Errorf("block %d: header 0x%04x, want 0x%04x", b, blk.Header, parse.UpperBank)
		}
		diff := fs.azimuthDiff(raw, b, step)
		blockOffsetUs := float64(b) * BlockDurationUs

		for f := 0; f < FiringsPerBlock; f++ {
			col := firingColumn(p, b, f, dual)
			for dsr := 0; dsr < ScansPerFiring; dsr++ {
				laser, ok := cal.Laser(dsr)
				if !ok {
					return fmt.Errorf("block %d: laser %d not in %d-laser calibration", b, dsr, cal.NumLasers)
				}
				slot := st.cloud.At(col, st.cloud.RowForRing(laser.Ring))
				if slot == nil {
					continue
				}
				*slot = l2frames.NaNPoint()
				slot.Ring = int16(laser.Ring)

				tUs := firingTimeUs(dsr, f)
				azimuth := correctedAzimuth(int(blk.Rotation), diff, tUs)
				if !st.params.Gate.Contains(azimuth) {
					stats.PointsGated++
					continue
				}
				ret := blk.Returns[f*ScansPerFiring+dsr]
				c := Correct(st.d.table, laser, res, ret.Distance, azimuth, ret.Intensity)
				if !st.params.InRange(c.Distance) {
					stats.PointsOutOfRange++
					continue
				}
				req := l2frames.TransformRequest{
					TargetTime: st.scan.Stamp,
					SourceTime: stamp.Add(microseconds(blockOffsetUs + tUs)),
					FixedFrame: st.params.FixedFrameID,
				}
				st.store(ctx, slot, c, req, stats)
			}
		}
	}
	return nil
}
