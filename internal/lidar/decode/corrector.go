package decode

import (
	"math"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/calibration"
)

// Two-point distance correction reference ranges (meters).
const (
	twoPtNearX = 2.4
	twoPtNearY = 1.93
	twoPtFar   = 25.04
)

// Intensity focal curve constants.
const (
	focalDistanceScale = 13100.0
	rawDistanceScale   = 65535.0
	focalCurveGain     = 256.0
)

// Corrected is the calibrated form of one raw return, in the output axis
// convention (x forward, y left, z up).
type Corrected struct {
	X, Y, Z float64
	// Intensity is clamped to the laser's [MinIntensity, MaxIntensity].
	Intensity float64
	// Distance is the range before two-point correction; it is the value
	// compared against the configured range limits.
	Distance float64
}

// Correct converts a raw (distance, azimuth, intensity) triple from one laser
// into a calibrated Cartesian point. azimuth is in rotation units and is
// reduced modulo one revolution. resolution is meters per distance unit.
func Correct(table *AngleTable, laser *calibration.LaserCorrection, resolution float64, rawDistance uint16, azimuth int, rawIntensity uint8) Corrected {
	distance := float64(rawDistance)*resolution + laser.DistCorrection

	cosVert := laser.CosVertCorrection
	sinVert := laser.SinVertCorrection
	cosTheta := table.Cos(azimuth)
	sinTheta := table.Sin(azimuth)

	// cos(a-b) = cos(a)*cos(b) + sin(a)*sin(b)
	// sin(a-b) = sin(a)*cos(b) - cos(a)*sin(b)
	cosRot := cosTheta*laser.CosRotCorrection + sinTheta*laser.SinRotCorrection
	sinRot := sinTheta*laser.CosRotCorrection - cosTheta*laser.SinRotCorrection

	horizOffset := laser.HorizOffsetCorrection
	vertOffset := laser.VertOffsetCorrection

	// Provisional planar distance and axis magnitudes select the two-point
	// correction for each axis.
	xyDistance := distance*cosVert - vertOffset*sinVert
	xx := math.Abs(xyDistance*sinRot - horizOffset*cosRot)
	yy := math.Abs(xyDistance*cosRot + horizOffset*sinRot)

	var distCorrX, distCorrY float64
	if laser.TwoPtCorrectionAvailable {
		distCorrX = (laser.DistCorrection-laser.DistCorrectionX)*(xx-twoPtNearX)/(twoPtFar-twoPtNearX) +
			laser.DistCorrectionX - laser.DistCorrection
		distCorrY = (laser.DistCorrection-laser.DistCorrectionY)*(yy-twoPtNearY)/(twoPtFar-twoPtNearY) +
			laser.DistCorrectionY - laser.DistCorrection
	}

	distanceX := distance + distCorrX
	xyDistance = distanceX*cosVert - vertOffset*sinVert
	x := xyDistance*sinRot - horizOffset*cosRot

	// y and z both use distanceY; the vendor model is not symmetric here.
	distanceY := distance + distCorrY
	xyDistance = distanceY*cosVert - vertOffset*sinVert
	y := xyDistance*cosRot + horizOffset*sinRot
	z := distanceY*sinVert + vertOffset*cosVert

	return Corrected{
		X:         y,
		Y:         -x,
		Z:         z,
		Intensity: correctIntensity(laser, rawDistance, rawIntensity),
		Distance:  distance,
	}
}

// correctIntensity applies the focal distance curve and clamps to the
// laser's intensity bounds.
func correctIntensity(laser *calibration.LaserCorrection, rawDistance uint16, rawIntensity uint8) float64 {
	focal := 1 - laser.FocalDistance/focalDistanceScale
	focalOffset := focalCurveGain * focal * focal

	d := 1 - float64(rawDistance)/rawDistanceScale
	intensity := float64(rawIntensity) + laser.FocalSlope*math.Abs(focalOffset-focalCurveGain*d*d)

	if intensity < float64(laser.MinIntensity) {
		intensity = float64(laser.MinIntensity)
	}
	if intensity > float64(laser.MaxIntensity) {
		intensity = float64(laser.MaxIntensity)
	}
	return intensity
}

// intensityByte converts a corrected intensity to the output byte.
func intensityByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= math.MaxUint8:
		return math.MaxUint8
	default:
		return uint8(v)
	}
}
