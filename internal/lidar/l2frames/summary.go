package l2frames

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CloudSummary condenses one cloud into the figures recorded per scan.
type CloudSummary struct {
	Width       int
	Height      int
	ValidPoints int
	// RingsAssigned counts slots that carry a ring, valid or not.
	RingsAssigned int

	RangeMin      float64
	RangeMax      float64
	RangeMean     float64
	RangeStdDev   float64
	IntensityMean float64
}

// Summarize computes range and intensity statistics over the valid points.
// Range is the Euclidean norm of each point in the cloud's frame.
func Summarize(c *OrganizedCloud) CloudSummary {
	s := CloudSummary{Width: c.Width, Height: c.Height}

	ranges := make([]float64, 0, len(c.Points))
	intensities := make([]float64, 0, len(c.Points))
	for i := range c.Points {
		p := &c.Points[i]
		if p.Ring != InvalidRing {
			s.RingsAssigned++
		}
		if !p.Valid() {
			continue
		}
		x, y, z := float64(p.X), float64(p.Y), float64(p.Z)
		ranges = append(ranges, math.Sqrt(x*x+y*y+z*z))
		intensities = append(intensities, float64(p.Intensity))
	}

	s.ValidPoints = len(ranges)
	if s.ValidPoints == 0 {
		return s
	}

	s.RangeMin = floats.Min(ranges)
	s.RangeMax = floats.Max(ranges)
	s.RangeMean, s.RangeStdDev = stat.MeanStdDev(ranges, nil)
	if s.ValidPoints == 1 {
		s.RangeStdDev = 0
	}
	s.IntensityMean = stat.Mean(intensities, nil)
	return s
}
