package decode

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
)

// decodeBlockPacket is the legacy two-bank decoder: every channel of a block
// shares the block's rotation. Points fill the cloud in channel order, one
// column per NumLasers channels.
func (st *scanState) decodeBlockPacket(ctx context.Context, p int, stamp time.Time, raw *parse.RawPacket, stats *ScanStats) error {
	cal := st.d.cal
	res := cal.DistanceResolution
	req := l2frames.TransformRequest{TargetTime: stamp, SourceTime: stamp}

	counter := p * parse.ScansPerPacket
	for b := range raw.Blocks {
		blk := &raw.Blocks[b]
		bankOrigin := 0
		if blk.Header == parse.LowerBank {
			bankOrigin = parse.LowerBankOrigin
		}
		rotation := wrapRotation(int(blk.Rotation))
		inGate := st.params.Gate.Contains(rotation)

		for j := range blk.Returns {
			laserNumber := j + bankOrigin
			laser, ok := cal.Laser(laserNumber)
			if !ok {
				return fmt.Errorf("block %d: laser %d not in %d-laser calibration", b, laserNumber, cal.NumLasers)
			}

			slot := st.cloud.At(counter/cal.NumLasers, st.cloud.RowForRing(laser.Ring))
			counter++
			if slot == nil {
				continue
			}
			slot.Ring = int16(laser.Ring)

			if !inGate {
				stats.PointsGated++
				continue
			}
			ret := blk.Returns[j]
			c := Correct(st.d.table, laser, res, ret.Distance, rotation, ret.Intensity)
			if !st.params.InRange(c.Distance) {
				stats.PointsOutOfRange++
				continue
			}
			st.store(ctx, slot, c, req, stats)
		}
	}
	return nil
}
