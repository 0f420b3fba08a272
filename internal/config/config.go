// Package config loads the application configuration and the run files that
// describe a single measurement.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agwidera/meca/internal/device"
)

// DefaultConfigPath is where cmd/meca looks for the application config when
// no -config flag is given.
const DefaultConfigPath = "config/meca.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the application configuration. Unset pointer fields fall back to
// the defaults returned by the Get* methods, so partial configs are safe.
type Config struct {
	DataDir *string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	LogDir  *string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`

	// ResetDevicesBeforeSetup runs a reset on every device before the
	// script's setup phase.
	ResetDevicesBeforeSetup *bool `json:"reset_devices_before_setup,omitempty" yaml:"reset_devices_before_setup,omitempty"`
	// SoftReset selects the soft reset for devices that support it.
	SoftReset *bool `json:"soft_reset,omitempty" yaml:"soft_reset,omitempty"`

	RandomizeIterators *bool   `json:"randomize_iterators,omitempty" yaml:"randomize_iterators,omitempty"`
	RedrawInterval     *string `json:"redraw_interval,omitempty" yaml:"redraw_interval,omitempty"` // duration string like "2s"
	StatusListen       *string `json:"status_listen,omitempty" yaml:"status_listen,omitempty"`

	Devices []device.Config `json:"devices,omitempty" yaml:"devices,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Defaults returns a Config with every field set to its default value.
func Defaults() *Config {
	return &Config{
		DataDir:                 ptrString("data"),
		LogDir:                  ptrString("logs"),
		ResetDevicesBeforeSetup: ptrBool(false),
		SoftReset:               ptrBool(true),
		RandomizeIterators:      ptrBool(false),
		RedrawInterval:          ptrString("2s"),
		StatusListen:            ptrString(""),
	}
}

// readLimited validates the path's extension and size and returns its contents.
func readLimited(path string) (string, []byte, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return "", nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return "", nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ext, data, nil
}

// decode parses JSON or YAML depending on ext. Unknown fields are rejected so
// typos in a config do not silently fall back to defaults.
func decode(ext string, data []byte, v any) error {
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// Load reads a Config from a JSON or YAML file and validates it.
func Load(path string) (*Config, error) {
	ext, data, err := readLimited(path)
	if err != nil {
		return nil, err
	}
	cfg := Empty()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := decode(ext, data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.DataDir != nil && *c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.LogDir != nil && *c.LogDir == "" {
		return fmt.Errorf("log_dir must not be empty")
	}

	if c.RedrawInterval != nil && *c.RedrawInterval != "" {
		d, err := time.ParseDuration(*c.RedrawInterval)
		if err != nil {
			return fmt.Errorf("invalid redraw_interval '%s': %w", *c.RedrawInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("redraw_interval must be non-negative, got %s", d)
		}
	}

	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Handle] {
			return fmt.Errorf("duplicate device handle %q", d.Handle)
		}
		seen[d.Handle] = true
	}
	return nil
}

// GetDataDir returns the data_dir value or the default.
func (c *Config) GetDataDir() string {
	if c.DataDir == nil {
		return "data"
	}
	return *c.DataDir
}

// GetLogDir returns the log_dir value or the default.
func (c *Config) GetLogDir() string {
	if c.LogDir == nil {
		return "logs"
	}
	return *c.LogDir
}

// GetResetDevicesBeforeSetup returns the reset_devices_before_setup value or the default.
func (c *Config) GetResetDevicesBeforeSetup() bool {
	if c.ResetDevicesBeforeSetup == nil {
		return false // scripts may rely on state left by a previous run
	}
	return *c.ResetDevicesBeforeSetup
}

// GetSoftReset returns the soft_reset value or the default.
func (c *Config) GetSoftReset() bool {
	if c.SoftReset == nil {
		return true
	}
	return *c.SoftReset
}

// GetRandomizeIterators returns the randomize_iterators value or the default.
func (c *Config) GetRandomizeIterators() bool {
	if c.RandomizeIterators == nil {
		return false
	}
	return *c.RandomizeIterators
}

// GetRedrawInterval parses and returns the RedrawInterval as a time.Duration.
func (c *Config) GetRedrawInterval() time.Duration {
	if c.RedrawInterval == nil || *c.RedrawInterval == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.RedrawInterval)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetStatusListen returns the status API listen address; empty disables it.
func (c *Config) GetStatusListen() string {
	if c.StatusListen == nil {
		return ""
	}
	return *c.StatusListen
}
