package calibration

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed sensor_configs/*.yaml
var embeddedConfigs embed.FS

// DefaultVLP16File is the embedded factory calibration for a VLP-16.
const DefaultVLP16File = "sensor_configs/VLP16db.yaml"

// maxCalibrationSize bounds calibration files read from disk.
const maxCalibrationSize = 1 << 20

// laserYAML mirrors one entry of the Velodyne calibration file. Optional
// fields are pointers so absence can be told apart from zero.
type laserYAML struct {
	LaserID               int      `yaml:"laser_id"`
	RotCorrection         float64  `yaml:"rot_correction"`
	VertCorrection        float64  `yaml:"vert_correction"`
	DistCorrection        float64  `yaml:"dist_correction"`
	DistCorrectionX       *float64 `yaml:"dist_correction_x"`
	DistCorrectionY       *float64 `yaml:"dist_correction_y"`
	VertOffsetCorrection  float64  `yaml:"vert_offset_correction"`
	HorizOffsetCorrection float64  `yaml:"horiz_offset_correction"`
	MaxIntensity          *int     `yaml:"max_intensity"`
	MinIntensity          *int     `yaml:"min_intensity"`
	FocalDistance         float64  `yaml:"focal_distance"`
	FocalSlope            float64  `yaml:"focal_slope"`
}

type calibrationYAML struct {
	NumLasers          int         `yaml:"num_lasers"`
	DistanceResolution *float64    `yaml:"distance_resolution"`
	Lasers             []laserYAML `yaml:"lasers"`
}

// Load reads a Velodyne calibration YAML file from disk.
func Load(path string) (*Calibration, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("calibration file must have .yaml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	if info.Size() > maxCalibrationSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", info.Size(), maxCalibrationSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// LoadEmbedded reads one of the calibration files compiled into the binary.
func LoadEmbedded(name string) (*Calibration, error) {
	data, err := embeddedConfigs.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded calibration %s: %w", name, err)
	}
	return Read(bytes.NewReader(data))
}

// DefaultVLP16 returns the embedded VLP-16 calibration. It panics if the
// embedded file is unusable, which would be a build defect.
func DefaultVLP16() *Calibration {
	c, err := LoadEmbedded(DefaultVLP16File)
	if err != nil {
		panic(fmt.Sprintf("embedded VLP-16 calibration: %v", err))
	}
	return c
}

// Read parses a calibration document and returns the validated Calibration.
func Read(r io.Reader) (*Calibration, error) {
	var doc calibrationYAML
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse calibration YAML: %v", ErrInvalidCalibration, err)
	}

	if doc.NumLasers != 0 && doc.NumLasers != len(doc.Lasers) {
		return nil, fmt.Errorf("%w: num_lasers is %d but %d lasers are listed", ErrInvalidCalibration, doc.NumLasers, len(doc.Lasers))
	}

	lasers := make([]LaserCorrection, 0, len(doc.Lasers))
	for _, ly := range doc.Lasers {
		lc := LaserCorrection{
			LaserID:               ly.LaserID,
			RotCorrection:         ly.RotCorrection,
			VertCorrection:        ly.VertCorrection,
			DistCorrection:        ly.DistCorrection,
			VertOffsetCorrection:  ly.VertOffsetCorrection,
			HorizOffsetCorrection: ly.HorizOffsetCorrection,
			MaxIntensity:          DefaultMaxIntensity,
			MinIntensity:          DefaultMinIntensity,
			FocalDistance:         ly.FocalDistance,
			FocalSlope:            ly.FocalSlope,
			Ring:                  -1,
		}
		if ly.DistCorrectionX != nil && ly.DistCorrectionY != nil {
			lc.DistCorrectionX = *ly.DistCorrectionX
			lc.DistCorrectionY = *ly.DistCorrectionY
			lc.TwoPtCorrectionAvailable = true
		}
		if ly.MaxIntensity != nil {
			lc.MaxIntensity = *ly.MaxIntensity
		}
		if ly.MinIntensity != nil {
			lc.MinIntensity = *ly.MinIntensity
		}
		lasers = append(lasers, lc)
	}

	c, err := NewCalibration(lasers)
	if err != nil {
		return nil, err
	}
	if doc.DistanceResolution != nil {
		c.DistanceResolution = *doc.DistanceResolution
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return c, nil
}
