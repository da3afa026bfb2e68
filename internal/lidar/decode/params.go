package decode

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
)

// ErrInvalidParams is returned for unusable decoder parameters.
var ErrInvalidParams = errors.New("invalid decoder parameters")

// DefaultTransformTimeout bounds a single point transform.
const DefaultTransformTimeout = 10 * time.Millisecond

// AzimuthGate is an angular window in hardware rotation units (hundredths of
// a degree, measured clockwise as the sensor reports them). When Min > Max
// the window wraps through zero.
type AzimuthGate struct {
	Min int
	Max int
}

// FullCircle passes every azimuth.
var FullCircle = AzimuthGate{Min: 0, Max: parse.RotationMaxUnits}

// Contains reports whether azimuth a is inside the window.
func (g AzimuthGate) Contains(a int) bool {
	if g.Min < g.Max {
		return a >= g.Min && a <= g.Max
	}
	return a <= g.Max || a >= g.Min
}

// GateFromView converts a view direction and width (radians, counter-
// clockwise, as a user describes the field of view) to the hardware gate.
// A zero-width or full-circle view yields FullCircle.
func GateFromView(viewDirection, viewWidth float64) AzimuthGate {
	minRad := positiveMod(viewDirection+viewWidth/2, 2*math.Pi)
	maxRad := positiveMod(viewDirection-viewWidth/2, 2*math.Pi)

	// Hardware angles are clockwise degrees×100; +0.5 rounds to nearest.
	g := AzimuthGate{
		Min: int(100*(2*math.Pi-minRad)*180/math.Pi + 0.5),
		Max: int(100*(2*math.Pi-maxRad)*180/math.Pi + 0.5),
	}
	return g.Normalized()
}

// Normalized maps the degenerate Min == Max window to FullCircle.
func (g AzimuthGate) Normalized() AzimuthGate {
	if g.Min == g.Max {
		return FullCircle
	}
	return g
}

func positiveMod(v, m float64) float64 {
	return math.Mod(math.Mod(v, m)+m, m)
}

// Params is the scan-independent decoder configuration.
type Params struct {
	MinRange float64 // meters, inclusive
	MaxRange float64 // meters, inclusive
	Gate     AzimuthGate

	// FrameID is the target frame for output points; empty keeps the
	// sensor frame and disables transforms.
	FrameID string
	// FixedFrameID relates firing times to the scan time when transforming.
	FixedFrameID string

	TransformTimeout time.Duration
}

// NewParams validates the range bounds and converts the view to a gate.
func NewParams(minRange, maxRange, viewDirection, viewWidth float64, frameID, fixedFrameID string) (Params, error) {
	p := Params{
		MinRange:         minRange,
		MaxRange:         maxRange,
		FrameID:          frameID,
		FixedFrameID:     fixedFrameID,
		TransformTimeout: DefaultTransformTimeout,
	}
	if math.IsNaN(viewDirection) || math.IsNaN(viewWidth) || math.IsInf(viewDirection, 0) || math.IsInf(viewWidth, 0) {
		return Params{}, fmt.Errorf("%w: view direction %v and width %v must be finite", ErrInvalidParams, viewDirection, viewWidth)
	}
	p.Gate = GateFromView(viewDirection, viewWidth)
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// DefaultParams decodes the full circle between 0.9 m and 130 m in the
// sensor frame.
func DefaultParams() Params {
	return Params{
		MinRange:         0.9,
		MaxRange:         130.0,
		Gate:             FullCircle,
		TransformTimeout: DefaultTransformTimeout,
	}
}

// Validate checks range bounds and gate limits.
func (p Params) Validate() error {
	if math.IsNaN(p.MinRange) || math.IsNaN(p.MaxRange) {
		return fmt.Errorf("%w: range bounds must be numbers", ErrInvalidParams)
	}
	if p.MinRange < 0 {
		return fmt.Errorf("%w: min_range %v must be non-negative", ErrInvalidParams, p.MinRange)
	}
	if p.MinRange > p.MaxRange {
		return fmt.Errorf("%w: min_range %v > max_range %v", ErrInvalidParams, p.MinRange, p.MaxRange)
	}
	if p.Gate.Min < 0 || p.Gate.Min > parse.RotationMaxUnits || p.Gate.Max < 0 || p.Gate.Max > parse.RotationMaxUnits {
		return fmt.Errorf("%w: azimuth gate [%d,%d] outside [0,%d]", ErrInvalidParams, p.Gate.Min, p.Gate.Max, parse.RotationMaxUnits)
	}
	if p.TransformTimeout < 0 {
		return fmt.Errorf("%w: negative transform timeout", ErrInvalidParams)
	}
	return nil
}

// InRange reports whether an uncorrected distance is inside [MinRange, MaxRange].
func (p Params) InRange(distance float64) bool {
	return distance >= p.MinRange && distance <= p.MaxRange
}

// transforms reports whether output points must go through a Transformer.
func (p Params) transforms() bool {
	return p.FrameID != ""
}
