// Package config loads the console configuration from a JSON file. Fields
// omitted from the file keep their defaults, so partial configs are safe;
// defaults match the bench hardware (Nordic UART name "OmniTile_1", 115200
// baud, 3 m anchor axes).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/omnitiles/tilelink/internal/position"
)

// Config is the root configuration. Pointer fields distinguish "absent" from
// zero values.
type Config struct {
	// SerialPort is the wired transport device path. Empty disables the
	// wired fallback entirely.
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// Listen is the HTTP listen address for the presentation boundary.
	Listen *string `json:"listen,omitempty"`

	// DeviceName is the advertised BLE name to scan for.
	DeviceName *string `json:"device_name,omitempty"`

	// Anchor coordinates in meters: anchor 2 sits at (AnchorAX, 0) and
	// anchor 3 at (0, AnchorBY); anchor 1 is always the origin.
	AnchorAX *float64 `json:"anchor_ax_m,omitempty"`
	AnchorBY *float64 `json:"anchor_by_m,omitempty"`

	M1 *ActuatorConfig `json:"m1,omitempty"`
	M2 *ActuatorConfig `json:"m2,omitempty"`
}

// ActuatorConfig overrides one actuator's mechanical constants.
type ActuatorConfig struct {
	Name             *string  `json:"name,omitempty"`
	StrokeMM         *float64 `json:"stroke_mm,omitempty"`
	BufferBottomMM   *float64 `json:"buffer_bottom_mm,omitempty"`
	BufferTopMM      *float64 `json:"buffer_top_mm,omitempty"`
	CarriageOffsetMM *float64 `json:"carriage_offset_mm,omitempty"`
}

// Default returns the configuration for the stock bench setup.
func Default() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The path must have a .json extension
// and the file must be a sane size; fields missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration that must fail at startup
// rather than at first use, most importantly degenerate anchor geometry.
func (c *Config) Validate() error {
	if err := c.Anchors().Validate(); err != nil {
		return err
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	return nil
}

// SerialPortPath returns the configured wired device path, or "" when the
// wired transport is absent.
func (c *Config) SerialPortPath() string {
	if c.SerialPort != nil {
		return *c.SerialPort
	}
	return ""
}

// Baud returns the wired transport baud rate.
func (c *Config) Baud() int {
	if c.BaudRate != nil {
		return *c.BaudRate
	}
	return 115200
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.Listen != nil {
		return *c.Listen
	}
	return ":8080"
}

// Device returns the BLE advertised name to scan for.
func (c *Config) Device() string {
	if c.DeviceName != nil {
		return *c.DeviceName
	}
	return "OmniTile_1"
}

// Anchors returns the configured anchor geometry.
func (c *Config) Anchors() position.Anchors {
	anchors := position.DefaultAnchors()
	if c.AnchorAX != nil {
		anchors.AX = *c.AnchorAX
	}
	if c.AnchorBY != nil {
		anchors.BY = *c.AnchorBY
	}
	return anchors
}

// Actuators returns the two actuator configurations with any overrides
// applied.
func (c *Config) Actuators() (m1, m2 position.Actuator) {
	m1 = applyActuator(position.P16(), c.M1)
	m2 = applyActuator(position.T16(), c.M2)
	return m1, m2
}

func applyActuator(base position.Actuator, override *ActuatorConfig) position.Actuator {
	if override == nil {
		return base
	}
	if override.Name != nil {
		base.Name = *override.Name
	}
	if override.StrokeMM != nil {
		base.StrokeMM = *override.StrokeMM
	}
	if override.BufferBottomMM != nil {
		base.BufferBottomMM = *override.BufferBottomMM
	}
	if override.BufferTopMM != nil {
		base.BufferTopMM = *override.BufferTopMM
	}
	if override.CarriageOffsetMM != nil {
		base.CarriageOffsetMM = *override.CarriageOffsetMM
	}
	return base
}
