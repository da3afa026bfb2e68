// Package calibration holds the per-laser correction model for Velodyne
// sensors: angular and distance corrections, intensity curve parameters and
// the hardware laser number to output ring mapping.
//
// A Calibration is built once (NewCalibration or Load) and is read-only
// afterwards, so it may be shared by any number of decoders.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Sensor constants shared by all supported models.
const (
	DefaultDistanceResolution = 0.002 // meters per distance unit
	DefaultMaxIntensity       = 255
	DefaultMinIntensity       = 0

	// VLP16Lasers selects the interpolated firing decode path.
	VLP16Lasers = 16
)

// ErrInvalidCalibration is returned for structurally unusable calibration data.
var ErrInvalidCalibration = errors.New("invalid calibration")

// DecodePath identifies which packet decoder a calibration requires.
type DecodePath int

const (
	// DecodePathBlock is the legacy two-bank decoder (one azimuth per block).
	DecodePathBlock DecodePath = iota
	// DecodePathFiring is the VLP-16 decoder with sub-block azimuth interpolation.
	DecodePathFiring
)

func (p DecodePath) String() string {
	switch p {
	case DecodePathFiring:
		return "firing"
	default:
		return "block"
	}
}

// LaserCorrection contains the calibration parameters of one physical emitter.
// Angles are in radians, distances in meters.
type LaserCorrection struct {
	LaserID int

	RotCorrection  float64
	VertCorrection float64

	DistCorrection  float64
	DistCorrectionX float64
	DistCorrectionY float64
	// TwoPtCorrectionAvailable enables the near/far X and Y distance corrections.
	TwoPtCorrectionAvailable bool

	VertOffsetCorrection  float64
	HorizOffsetCorrection float64

	MaxIntensity  int
	MinIntensity  int
	FocalDistance float64
	FocalSlope    float64

	// Precomputed by NewCalibration.
	CosRotCorrection  float64
	SinRotCorrection  float64
	CosVertCorrection float64
	SinVertCorrection float64

	// Ring is the output row this laser maps to, ordered by vertical angle.
	Ring int
}

// Calibration is the full correction table indexed by hardware laser number.
type Calibration struct {
	NumLasers          int
	DistanceResolution float64
	// TwoPtCorrectionAvailable is true when every laser carries two-point data.
	TwoPtCorrectionAvailable bool

	lasers  []LaserCorrection
	present []bool
}

// NewCalibration builds a validated Calibration from per-laser corrections.
// Lasers with Ring < 0 trigger ring assignment for the whole table, ordering
// lasers by ascending vertical correction (ring 0 is the lowest beam).
func NewCalibration(lasers []LaserCorrection) (*Calibration, error) {
	if len(lasers) == 0 {
		return nil, fmt.Errorf("%w: no lasers", ErrInvalidCalibration)
	}

	c := &Calibration{
		NumLasers:                len(lasers),
		DistanceResolution:       DefaultDistanceResolution,
		TwoPtCorrectionAvailable: true,
		lasers:                   make([]LaserCorrection, len(lasers)),
		present:                  make([]bool, len(lasers)),
	}

	needRings := false
	for _, l := range lasers {
		if l.LaserID < 0 || l.LaserID >= len(lasers) {
			return nil, fmt.Errorf("%w: laser id %d out of range [0,%d)", ErrInvalidCalibration, l.LaserID, len(lasers))
		}
		if c.present[l.LaserID] {
			return nil, fmt.Errorf("%w: duplicate laser id %d", ErrInvalidCalibration, l.LaserID)
		}
		l.CosRotCorrection = math.Cos(l.RotCorrection)
		l.SinRotCorrection = math.Sin(l.RotCorrection)
		l.CosVertCorrection = math.Cos(l.VertCorrection)
		l.SinVertCorrection = math.Sin(l.VertCorrection)
		if l.Ring < 0 {
			needRings = true
		}
		if !l.TwoPtCorrectionAvailable {
			c.TwoPtCorrectionAvailable = false
		}
		c.lasers[l.LaserID] = l
		c.present[l.LaserID] = true
	}

	if needRings {
		c.assignRings()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// assignRings numbers lasers from the lowest vertical angle upwards. Ties keep
// laser id order so the mapping is deterministic.
func (c *Calibration) assignRings() {
	order := make([]int, len(c.lasers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return c.lasers[order[a]].VertCorrection < c.lasers[order[b]].VertCorrection
	})
	for ring, id := range order {
		c.lasers[id].Ring = ring
	}
}

// Validate reports whether the calibration can be used for decoding.
func (c *Calibration) Validate() error {
	if c == nil || c.NumLasers <= 0 {
		return fmt.Errorf("%w: no lasers", ErrInvalidCalibration)
	}
	if len(c.lasers) != c.NumLasers || len(c.present) != c.NumLasers {
		return fmt.Errorf("%w: table size %d does not match num_lasers %d", ErrInvalidCalibration, len(c.lasers), c.NumLasers)
	}
	if c.DistanceResolution <= 0 {
		return fmt.Errorf("%w: distance resolution must be positive, got %g", ErrInvalidCalibration, c.DistanceResolution)
	}

	rings := make([]bool, c.NumLasers)
	for id := 0; id < c.NumLasers; id++ {
		if !c.present[id] {
			return fmt.Errorf("%w: missing correction for laser %d", ErrInvalidCalibration, id)
		}
		l := &c.lasers[id]
		if l.Ring < 0 || l.Ring >= c.NumLasers {
			return fmt.Errorf("%w: laser %d ring %d out of range", ErrInvalidCalibration, id, l.Ring)
		}
		if rings[l.Ring] {
			return fmt.Errorf("%w: ring %d assigned twice", ErrInvalidCalibration, l.Ring)
		}
		rings[l.Ring] = true
		if l.MinIntensity > l.MaxIntensity {
			return fmt.Errorf("%w: laser %d min_intensity %d > max_intensity %d", ErrInvalidCalibration, id, l.MinIntensity, l.MaxIntensity)
		}
	}
	return nil
}

// Laser returns the correction for a hardware laser number. The pointer
// refers to calibration-owned memory and must not be modified.
func (c *Calibration) Laser(n int) (*LaserCorrection, bool) {
	if n < 0 || n >= len(c.lasers) || !c.present[n] {
		return nil, false
	}
	return &c.lasers[n], true
}

// DecodePath returns the decoder required by this calibration's laser count.
func (c *Calibration) DecodePath() DecodePath {
	return DecodePathFor(c.NumLasers)
}

// DecodePathFor maps a laser count to its decoder.
func DecodePathFor(numLasers int) DecodePath {
	if numLasers == VLP16Lasers {
		return DecodePathFiring
	}
	return DecodePathBlock
}
