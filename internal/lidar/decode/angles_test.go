package decode

import (
	"math"
	"testing"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
)

func TestAngleTable_PythagoreanIdentity(t *testing.T) {
	table := NewAngleTable()
	for r := 0; r < parse.RotationMaxUnits; r++ {
		c, s := table.Cos(r), table.Sin(r)
		if got := c*c + s*s; math.Abs(got-1) > 1e-12 {
			t.Fatalf("rotation %d: cos²+sin² = %v", r, got)
		}
	}
}

func TestAngleTable_Wraps(t *testing.T) {
	table := NewAngleTable()
	tests := []struct {
		in, want int
	}{
		{36000, 0},
		{36001, 1},
		{-1, 35999},
		{72000 + 9000, 9000},
	}
	for _, tt := range tests {
		if table.Cos(tt.in) != table.Cos(tt.want) || table.Sin(tt.in) != table.Sin(tt.want) {
			t.Errorf("rotation %d should equal rotation %d", tt.in, tt.want)
		}
	}
	if got := table.Sin(9000); math.Abs(got-1) > 1e-12 {
		t.Errorf("Sin(9000) = %v, want 1", got)
	}
	if got := table.Cos(18000); math.Abs(got+1) > 1e-12 {
		t.Errorf("Cos(18000) = %v, want -1", got)
	}
}
