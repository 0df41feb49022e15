package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/thermal.capture/internal/capture"
	"github.com/banshee-data/thermal.capture/internal/link"
	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/sensor"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

// DefaultConfigPath is the path to the canonical capture defaults file.
const DefaultConfigPath = "config/capture.defaults.json"

// CaptureConfig is the root configuration for the acquisition pipeline.
// Every field is optional; the Get* methods supply defaults.
type CaptureConfig struct {
	// Synchronization and capture
	QuietInterval  *string `json:"quiet_interval,omitempty"`  // duration string like "200ms"
	CaptureTimeout *string `json:"capture_timeout,omitempty"` // duration string like "5s"
	MaxResyncs     *int    `json:"max_resyncs,omitempty"`
	VerifyCRC      *bool   `json:"verify_crc,omitempty"`

	// Sensor reset
	BootTimeout *string `json:"boot_timeout,omitempty"`
	FFCTimeout  *string `json:"ffc_timeout,omitempty"`

	// Output
	PixelFormat *string `json:"pixel_format,omitempty"` // "grayscale" or "rgb565"
	HMirror     *bool   `json:"hmirror,omitempty"`
	VFlip       *bool   `json:"vflip,omitempty"`

	// Serial link
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`

	// Recording
	CaptureInterval *string `json:"capture_interval,omitempty"`
	RetainFrames    *int    `json:"retain_frames,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyCaptureConfig returns a CaptureConfig with all fields set to nil.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// DefaultCaptureConfig returns a CaptureConfig with every field set to its
// default.
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		QuietInterval:   ptrString("200ms"),
		CaptureTimeout:  ptrString("5s"),
		MaxResyncs:      ptrInt(capture.DefaultMaxResyncs),
		VerifyCRC:       ptrBool(false),
		BootTimeout:     ptrString("1s"),
		FFCTimeout:      ptrString("5s"),
		PixelFormat:     ptrString("grayscale"),
		HMirror:         ptrBool(false),
		VFlip:           ptrBool(false),
		BaudRate:        ptrInt(link.DefaultBaudRate),
		DataBits:        ptrInt(8),
		StopBits:        ptrInt(1),
		Parity:          ptrString("N"),
		CaptureInterval: ptrString("1s"),
		RetainFrames:    ptrInt(1000),
	}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up to the repository root. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *CaptureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/sensor/cci/
	}
	for _, path := range candidates {
		if cfg, err := LoadCaptureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	durations := []struct {
		name  string
		value *string
	}{
		{"quiet_interval", c.QuietInterval},
		{"capture_timeout", c.CaptureTimeout},
		{"boot_timeout", c.BootTimeout},
		{"ffc_timeout", c.FFCTimeout},
		{"capture_interval", c.CaptureInterval},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}

	// The sensor only restarts its packet counter after at least one frame
	// period (~111ms at 9 Hz) of silence.
	if c.QuietInterval != nil && *c.QuietInterval != "" && c.GetQuietInterval() < 120*time.Millisecond {
		return fmt.Errorf("quiet_interval must be at least 120ms, got %s", *c.QuietInterval)
	}

	if c.MaxResyncs != nil && *c.MaxResyncs < 1 {
		return fmt.Errorf("max_resyncs must be at least 1, got %d", *c.MaxResyncs)
	}
	if c.RetainFrames != nil && *c.RetainFrames < 0 {
		return fmt.Errorf("retain_frames must be non-negative, got %d", *c.RetainFrames)
	}
	if c.PixelFormat != nil {
		if _, err := radiometry.ParsePixFormat(*c.PixelFormat); err != nil {
			return fmt.Errorf("invalid pixel_format: %w", err)
		}
	}
	if _, err := c.PortOptions(); err != nil {
		return err
	}
	return nil
}

func (c *CaptureConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetQuietInterval returns the link idle time used by resync.
func (c *CaptureConfig) GetQuietInterval() time.Duration {
	return c.duration(c.QuietInterval, vospi.DefaultQuietInterval)
}

// GetCaptureTimeout returns the per-capture time bound.
func (c *CaptureConfig) GetCaptureTimeout() time.Duration {
	return c.duration(c.CaptureTimeout, capture.DefaultTimeout)
}

// GetBootTimeout returns the open/boot/busy poll timeout.
func (c *CaptureConfig) GetBootTimeout() time.Duration {
	return c.duration(c.BootTimeout, sensor.DefaultBootTimeout)
}

// GetFFCTimeout returns the flat-field correction poll timeout.
func (c *CaptureConfig) GetFFCTimeout() time.Duration {
	return c.duration(c.FFCTimeout, sensor.DefaultFFCTimeout)
}

// GetCaptureInterval returns the period of the recording loop.
func (c *CaptureConfig) GetCaptureInterval() time.Duration {
	return c.duration(c.CaptureInterval, time.Second)
}

// GetMaxResyncs returns the max_resyncs value or the default.
func (c *CaptureConfig) GetMaxResyncs() int {
	if c.MaxResyncs == nil {
		return capture.DefaultMaxResyncs
	}
	return *c.MaxResyncs
}

// GetVerifyCRC returns the verify_crc value or the default.
func (c *CaptureConfig) GetVerifyCRC() bool {
	if c.VerifyCRC == nil {
		return false // default: the sensor's checksum is not checked
	}
	return *c.VerifyCRC
}

// GetPixelFormat returns the output format; invalid values fall back to
// grayscale.
func (c *CaptureConfig) GetPixelFormat() radiometry.PixFormat {
	if c.PixelFormat == nil {
		return radiometry.FormatGrayscale
	}
	f, err := radiometry.ParsePixFormat(*c.PixelFormat)
	if err != nil {
		return radiometry.FormatGrayscale
	}
	return f
}

// GetHMirror returns the hmirror value or the default.
func (c *CaptureConfig) GetHMirror() bool {
	return c.HMirror != nil && *c.HMirror
}

// GetVFlip returns the vflip value or the default.
func (c *CaptureConfig) GetVFlip() bool {
	return c.VFlip != nil && *c.VFlip
}

// GetRetainFrames returns how many captures the frame store keeps; 0 keeps
// everything.
func (c *CaptureConfig) GetRetainFrames() int {
	if c.RetainFrames == nil {
		return 1000
	}
	return *c.RetainFrames
}

// PortOptions returns the normalised serial settings.
func (c *CaptureConfig) PortOptions() (link.PortOptions, error) {
	var opts link.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts.Normalise()
}
