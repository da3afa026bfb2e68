package l2frames

import (
	"math"
	"time"
)

// InvalidRing marks a slot no laser has been assigned to.
const InvalidRing = -1

// Point is one organized cloud sample. X, Y and Z are NaN until a valid
// return has been written.
type Point struct {
	X, Y, Z   float32
	Intensity uint8
	Ring      int16
}

// NaNPoint is the sentinel every slot starts as.
func NaNPoint() Point {
	nan := float32(math.NaN())
	return Point{X: nan, Y: nan, Z: nan, Ring: InvalidRing}
}

// Valid reports whether the point carries coordinates.
func (p Point) Valid() bool {
	return !math.IsNaN(float64(p.X)) && !math.IsNaN(float64(p.Y)) && !math.IsNaN(float64(p.Z))
}

// OrganizedCloud is a width×height point buffer stored row-major. Columns
// follow firing order and rows follow rings from the top beam down.
type OrganizedCloud struct {
	Width   int
	Height  int
	Points  []Point
	Stamp   time.Time
	FrameID string
}

// NewOrganizedCloud allocates a cloud with every slot set to NaNPoint.
func NewOrganizedCloud(width, height int) *OrganizedCloud {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	c := &OrganizedCloud{
		Width:  width,
		Height: height,
		Points: make([]Point, width*height),
	}
	nan := NaNPoint()
	for i := range c.Points {
		c.Points[i] = nan
	}
	return c
}

// At returns the slot at (col, row), or nil when outside the buffer.
func (c *OrganizedCloud) At(col, row int) *Point {
	if col < 0 || col >= c.Width || row < 0 || row >= c.Height {
		return nil
	}
	return &c.Points[row*c.Width+col]
}

// RowForRing maps a ring to its row: the highest ring is row 0.
func (c *OrganizedCloud) RowForRing(ring int) int {
	return c.Height - 1 - ring
}

// ValidCount returns the number of points with coordinates.
func (c *OrganizedCloud) ValidCount() int {
	n := 0
	for i := range c.Points {
		if c.Points[i].Valid() {
			n++
		}
	}
	return n
}
