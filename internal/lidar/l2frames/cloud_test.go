package l2frames

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestNewOrganizedCloud_NaNSentinel(t *testing.T) {
	c := NewOrganizedCloud(4, 3)
	if len(c.Points) != 12 {
		t.Fatalf("len(Points) = %d, want 12", len(c.Points))
	}
	for i, p := range c.Points {
		if p.Valid() {
			t.Errorf("point %d should start invalid", i)
		}
		if p.Ring != InvalidRing {
			t.Errorf("point %d ring = %d, want %d", i, p.Ring, InvalidRing)
		}
		if p.Intensity != 0 {
			t.Errorf("point %d intensity = %d, want 0", i, p.Intensity)
		}
	}
}

func TestOrganizedCloud_AtBounds(t *testing.T) {
	c := NewOrganizedCloud(4, 3)
	if c.At(3, 2) == nil {
		t.Fatal("At(3,2) should be inside the buffer")
	}
	c.At(3, 2).Ring = 7
	if c.Points[2*4+3].Ring != 7 {
		t.Error("At should address row-major storage")
	}

	for _, rc := range [][2]int{{-1, 0}, {4, 0}, {0, -1}, {0, 3}} {
		if c.At(rc[0], rc[1]) != nil {
			t.Errorf("At(%d,%d) should be nil", rc[0], rc[1])
		}
	}
}

func TestOrganizedCloud_RowForRing(t *testing.T) {
	c := NewOrganizedCloud(1, 16)
	if got := c.RowForRing(0); got != 15 {
		t.Errorf("RowForRing(0) = %d, want 15", got)
	}
	if got := c.RowForRing(15); got != 0 {
		t.Errorf("RowForRing(15) = %d, want 0", got)
	}
}

func TestNewOrganizedCloud_NegativeDims(t *testing.T) {
	c := NewOrganizedCloud(-1, 5)
	if c.Width != 0 || len(c.Points) != 0 {
		t.Errorf("cloud = %dx%d with %d points", c.Width, c.Height, len(c.Points))
	}
}

func TestSummarize(t *testing.T) {
	c := NewOrganizedCloud(3, 1)
	*c.At(0, 0) = Point{X: 3, Y: 4, Z: 0, Intensity: 10, Ring: 0}
	*c.At(1, 0) = Point{X: 0, Y: 0, Z: 2, Intensity: 30, Ring: 0}
	c.At(2, 0).Ring = 0 // ring only

	s := Summarize(c)
	if s.ValidPoints != 2 || s.RingsAssigned != 3 {
		t.Fatalf("summary counts = %+v", s)
	}
	if s.RangeMin != 2 || s.RangeMax != 5 {
		t.Errorf("range min/max = %v/%v, want 2/5", s.RangeMin, s.RangeMax)
	}
	if math.Abs(s.RangeMean-3.5) > 1e-9 {
		t.Errorf("RangeMean = %v, want 3.5", s.RangeMean)
	}
	if math.Abs(s.IntensityMean-20) > 1e-9 {
		t.Errorf("IntensityMean = %v, want 20", s.IntensityMean)
	}
	if s.RangeStdDev <= 0 {
		t.Errorf("RangeStdDev = %v, want > 0", s.RangeStdDev)
	}
}

func TestSummarize_SingleAndEmpty(t *testing.T) {
	empty := Summarize(NewOrganizedCloud(2, 2))
	if empty.ValidPoints != 0 || empty.RangeMean != 0 {
		t.Errorf("empty summary = %+v", empty)
	}

	c := NewOrganizedCloud(1, 1)
	*c.At(0, 0) = Point{X: 1, Ring: 0}
	one := Summarize(c)
	if one.RangeStdDev != 0 {
		t.Errorf("single point stddev = %v, want 0", one.RangeStdDev)
	}
}

func TestWritePCD(t *testing.T) {
	c := NewOrganizedCloud(2, 1)
	*c.At(0, 0) = Point{X: 1.5, Y: -2, Z: 0.25, Intensity: 42, Ring: 0}

	var buf bytes.Buffer
	if err := WritePCD(&buf, c); err != nil {
		t.Fatalf("WritePCD: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"WIDTH 2\n", "HEIGHT 1\n", "POINTS 2\n", "1.5 -2 0.25 42 0\n", "nan nan nan 0 -1\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("PCD output missing %q:\n%s", want, out)
		}
	}
}

func TestStaticTransformer(t *testing.T) {
	st := NewStaticTransformer()
	st.Set("base_link", "velodyne", NewRigidTransform(math.Pi/2, 0, 0, r3.Vec{X: 1, Z: 2}))

	ctx := context.Background()
	req := TransformRequest{Target: "base_link", Source: "velodyne"}

	got, err := st.TransformPoint(ctx, req, r3.Vec{X: 1})
	if err != nil {
		t.Fatalf("TransformPoint: %v", err)
	}
	// Yaw 90°: (1,0,0) -> (0,1,0), then translate by (1,0,2).
	want := r3.Vec{X: 1, Y: 1, Z: 2}
	if r3.Norm(r3.Sub(got, want)) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}

	same, err := st.TransformPoint(ctx, TransformRequest{Target: "velodyne", Source: "velodyne"}, r3.Vec{X: 5})
	if err != nil || same.X != 5 {
		t.Errorf("identity transform = %v, %v", same, err)
	}
}

func TestStaticTransformer_Errors(t *testing.T) {
	st := NewStaticTransformer()
	_, err := st.TransformPoint(context.Background(), TransformRequest{Target: "map", Source: "velodyne"}, r3.Vec{})
	if !errors.Is(err, ErrTransformUnavailable) {
		t.Errorf("err = %v, want ErrTransformUnavailable", err)
	}
	var terr *TransformError
	if !errors.As(err, &terr) || terr.Target != "map" || terr.Source != "velodyne" {
		t.Errorf("errors.As TransformError = %+v", terr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = st.TransformPoint(ctx, TransformRequest{Target: "map", Source: "velodyne"}, r3.Vec{})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrTransformUnavailable) {
		t.Errorf("cancelled err = %v", err)
	}
}

func TestNewRigidTransform_Composition(t *testing.T) {
	// Roll 90° about X maps +Y to +Z; yaw 90° about Z then maps +Z to +Z.
	rt := NewRigidTransform(math.Pi/2, 0, math.Pi/2, r3.Vec{})
	got := rt.Apply(r3.Vec{Y: 1})
	want := r3.Vec{Z: 1}
	if r3.Norm(r3.Sub(got, want)) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}

	// Roll first maps +Z to -Y, then yaw maps -Y to +X.
	got = rt.Apply(r3.Vec{Z: 1})
	want = r3.Vec{X: 1}
	if r3.Norm(r3.Sub(got, want)) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}
