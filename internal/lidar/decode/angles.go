package decode

import (
	"math"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
)

// RotationResolution is the size of one rotation unit in degrees.
const RotationResolution = 0.01

// AngleTable caches sine and cosine for every rotation unit.
type AngleTable struct {
	cos [parse.RotationMaxUnits]float64
	sin [parse.RotationMaxUnits]float64
}

// NewAngleTable computes the table. It is immutable once returned.
func NewAngleTable() *AngleTable {
	t := &AngleTable{}
	const radPerUnit = RotationResolution * math.Pi / 180.0
	for i := 0; i < parse.RotationMaxUnits; i++ {
		rad := float64(i) * radPerUnit
		t.cos[i] = math.Cos(rad)
		t.sin[i] = math.Sin(rad)
	}
	return t
}

// Cos returns the cosine of rotation unit r, reduced modulo one revolution.
func (t *AngleTable) Cos(r int) float64 {
	return t.cos[wrapRotation(r)]
}

// Sin returns the sine of rotation unit r, reduced modulo one revolution.
func (t *AngleTable) Sin(r int) float64 {
	return t.sin[wrapRotation(r)]
}

// wrapRotation reduces any rotation value into [0, RotationMaxUnits).
func wrapRotation(r int) int {
	r %= parse.RotationMaxUnits
	if r < 0 {
		r += parse.RotationMaxUnits
	}
	return r
}
