package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/decode"
)

// DefaultConfigPath is the path to the canonical decoder defaults file.
const DefaultConfigPath = "config/decoder.defaults.json"

// DecoderConfig is the JSON configuration for decoding and scan assembly.
// Every field is optional; the Get* methods supply defaults for omitted ones.
type DecoderConfig struct {
	// Calibration YAML; empty selects the embedded VLP-16 table.
	CalibrationFile *string `json:"calibration_file,omitempty"`
	Model           *string `json:"model,omitempty"` // VLP16, HDL32E or HDL64E; empty follows the calibration

	// Decoder params
	MinRange         *float64 `json:"min_range,omitempty"`      // meters
	MaxRange         *float64 `json:"max_range,omitempty"`      // meters
	ViewDirection    *float64 `json:"view_direction,omitempty"` // radians
	ViewWidth        *float64 `json:"view_width,omitempty"`     // radians
	FrameID          *string  `json:"frame_id,omitempty"`
	FixedFrameID     *string  `json:"fixed_frame_id,omitempty"`
	TransformTimeout *string  `json:"transform_timeout,omitempty"` // duration string like "10ms"

	// Scan assembly params
	NPackets  *int     `json:"npackets,omitempty"` // 0 derives from model and rpm
	RPM       *float64 `json:"rpm,omitempty"`
	IdleFlush *string  `json:"idle_flush,omitempty"` // duration string like "200ms"
	Workers   *int     `json:"workers,omitempty"`
}

// EmptyDecoderConfig returns a DecoderConfig with all fields unset.
func EmptyDecoderConfig() *DecoderConfig {
	return &DecoderConfig{}
}

// LoadDecoderConfig loads a DecoderConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Omitted fields
// keep their defaults, so partial configs are safe.
func LoadDecoderConfig(path string) (*DecoderConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDecoderConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *DecoderConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
	}
	for _, path := range candidates {
		if cfg, err := LoadDecoderConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks values that can be checked without building params.
func (c *DecoderConfig) Validate() error {
	for name, d := range map[string]*string{
		"transform_timeout": c.TransformTimeout,
		"idle_flush":        c.IdleFlush,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, v)
		}
	}

	if c.NPackets != nil && *c.NPackets < 0 {
		return fmt.Errorf("npackets must be non-negative, got %d", *c.NPackets)
	}
	if c.RPM != nil && !(*c.RPM > 0) {
		return fmt.Errorf("rpm must be positive, got %v", *c.RPM)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.GetMinRange() > c.GetMaxRange() {
		return fmt.Errorf("min_range %v > max_range %v", c.GetMinRange(), c.GetMaxRange())
	}
	return nil
}

// Params converts the decoder fields to validated decoder params.
func (c *DecoderConfig) Params() (decode.Params, error) {
	p, err := decode.NewParams(c.GetMinRange(), c.GetMaxRange(), c.GetViewDirection(), c.GetViewWidth(),
		c.GetFrameID(), c.GetFixedFrameID())
	if err != nil {
		return decode.Params{}, err
	}
	p.TransformTimeout = c.GetTransformTimeout()
	return p, nil
}

// GetCalibrationFile returns the calibration_file value or "" (embedded).
func (c *DecoderConfig) GetCalibrationFile() string {
	if c.CalibrationFile == nil {
		return ""
	}
	return *c.CalibrationFile
}

// GetModel returns the model value, or "" to derive it from the
// calibration's laser count.
func (c *DecoderConfig) GetModel() string {
	if c.Model == nil {
		return ""
	}
	return *c.Model
}

// GetMinRange returns the min_range value or the default.
func (c *DecoderConfig) GetMinRange() float64 {
	if c.MinRange == nil {
		return 0.9
	}
	return *c.MinRange
}

// GetMaxRange returns the max_range value or the default.
func (c *DecoderConfig) GetMaxRange() float64 {
	if c.MaxRange == nil {
		return 130.0
	}
	return *c.MaxRange
}

// GetViewDirection returns the view_direction value or the default.
func (c *DecoderConfig) GetViewDirection() float64 {
	if c.ViewDirection == nil {
		return 0
	}
	return *c.ViewDirection
}

// GetViewWidth returns the view_width value or the default (full circle).
func (c *DecoderConfig) GetViewWidth() float64 {
	if c.ViewWidth == nil {
		return 2 * math.Pi
	}
	return *c.ViewWidth
}

func (c *DecoderConfig) GetFrameID() string {
	if c.FrameID == nil {
		return ""
	}
	return *c.FrameID
}

func (c *DecoderConfig) GetFixedFrameID() string {
	if c.FixedFrameID == nil {
		return ""
	}
	return *c.FixedFrameID
}

// GetTransformTimeout parses and returns the TransformTimeout.
func (c *DecoderConfig) GetTransformTimeout() time.Duration {
	return parseDurationOr(c.TransformTimeout, decode.DefaultTransformTimeout)
}

// GetNPackets returns the npackets value, 0 meaning derive from model and rpm.
func (c *DecoderConfig) GetNPackets() int {
	if c.NPackets == nil {
		return 0
	}
	return *c.NPackets
}

// GetRPM returns the rpm value or the default.
func (c *DecoderConfig) GetRPM() float64 {
	if c.RPM == nil {
		return 600
	}
	return *c.RPM
}

// GetIdleFlush parses and returns the IdleFlush duration.
func (c *DecoderConfig) GetIdleFlush() time.Duration {
	return parseDurationOr(c.IdleFlush, 200*time.Millisecond)
}

// GetWorkers returns the workers value or the default.
func (c *DecoderConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}
