package main

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/velodyne-cloud/internal/config"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
)

func TestParseStaticTransform(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		point   r3.Vec
		want    r3.Vec
		wantErr bool
	}{
		{name: "empty is identity", in: "", point: r3.Vec{X: 1, Y: 2, Z: 3}, want: r3.Vec{X: 1, Y: 2, Z: 3}},
		{name: "translation", in: "1, 0, 2", point: r3.Vec{X: 1}, want: r3.Vec{X: 2, Z: 2}},
		{name: "yaw quarter turn", in: "0,0,0," + "1.5707963267948966", point: r3.Vec{X: 1}, want: r3.Vec{Y: 1}},
		{name: "too few", in: "1,2", wantErr: true},
		{name: "too many", in: "1,2,3,4,5,6,7", wantErr: true},
		{name: "not a number", in: "1,x,3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := parseStaticTransform(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseStaticTransform(%q) = nil error, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseStaticTransform(%q): %v", tt.in, err)
			}
			got := rt.Apply(tt.point)
			if r3.Norm(r3.Sub(got, tt.want)) > 1e-9 {
				t.Errorf("Apply(%v) = %v, want %v", tt.point, got, tt.want)
			}
		})
	}
}

func TestLoadCalibration(t *testing.T) {
	cal, err := loadCalibration("")
	if err != nil {
		t.Fatalf("embedded calibration: %v", err)
	}
	if cal.NumLasers != 16 {
		t.Errorf("NumLasers = %d, want 16", cal.NumLasers)
	}
	if _, err := loadCalibration(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetModel() != "" {
		t.Errorf("model = %q, want empty so the calibration decides", cfg.GetModel())
	}

	path := filepath.Join(t.TempDir(), "c.json")
	if err := os.WriteFile(path, []byte(`{"frame_id": "map", "min_range": 2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetFrameID() != "map" || cfg.GetMinRange() != 2 {
		t.Errorf("frame=%q min=%v", cfg.GetFrameID(), cfg.GetMinRange())
	}
}

func TestBuildDecoder(t *testing.T) {
	cal, err := loadCalibration("")
	if err != nil {
		t.Fatal(err)
	}

	d, err := buildDecoder(config.EmptyDecoderConfig(), cal, "velodyne", "")
	if err != nil {
		t.Fatalf("buildDecoder: %v", err)
	}
	if p := d.Params(); p.FrameID != "" || p.MinRange != 0.9 {
		t.Errorf("params = %+v", p)
	}

	frame := "map"
	cfg := config.EmptyDecoderConfig()
	cfg.FrameID = &frame
	d, err = buildDecoder(cfg, cal, "velodyne", "0,0,1.5,"+strconv.FormatFloat(math.Pi, 'g', -1, 64))
	if err != nil {
		t.Fatalf("buildDecoder with transform: %v", err)
	}
	if d.Params().FrameID != "map" {
		t.Errorf("FrameID = %q", d.Params().FrameID)
	}

	if _, err := buildDecoder(cfg, cal, "velodyne", "bad"); err == nil {
		t.Error("expected error for malformed transform")
	}
}

func TestNewScanBuilder_FollowsCalibration(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	onScan := func(*parse.Scan) {}

	tests := []struct {
		lasers int
		model  string
		want   int
	}{
		{16, "VLP16", 76},
		{32, "HDL32E", 181},
		{64, "HDL64E", 348},
	}
	for _, tt := range tests {
		b, err := newScanBuilder(cfg, tt.lasers, onScan)
		if err != nil {
			t.Fatalf("%d lasers: %v", tt.lasers, err)
		}
		if b.Model() != tt.model || b.PacketsPerScan() != tt.want {
			t.Errorf("%d lasers: got %s/%d, want %s/%d", tt.lasers, b.Model(), b.PacketsPerScan(), tt.model, tt.want)
		}
	}

	model := "VLP16"
	cfg.Model = &model
	if _, err := newScanBuilder(cfg, 64, onScan); err == nil {
		t.Error("expected error for VLP16 model with a 64-laser calibration")
	}
}
