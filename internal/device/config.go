package device

import (
	"fmt"
	"regexp"
	"time"
)

// Kinds of instrument connections.
const (
	KindSerial    = "scpi-serial"
	KindTCP       = "scpi-tcp"
	KindSimulated = "simulated"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config describes one instrument to open.
type Config struct {
	// Handle is the name scripts look the device up by.
	Handle  string      `json:"handle" yaml:"handle"`
	Name    string      `json:"name" yaml:"name"`
	Kind    string      `json:"kind" yaml:"kind"`
	Address string      `json:"address" yaml:"address"`
	Port    PortOptions `json:"port,omitempty" yaml:"port,omitempty"`
	// Timeout is a duration string like "2s".
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Terminator overrides the SCPI line terminator.
	Terminator string `json:"terminator,omitempty" yaml:"terminator,omitempty"`
	// ErrorChecking disables the error query after each exchange when false.
	ErrorChecking *bool `json:"error_checking,omitempty" yaml:"error_checking,omitempty"`
	// Settings holds free-form driver settings, e.g. "model" for simulated devices.
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Validate checks the handle, kind and kind-specific fields.
func (c Config) Validate() error {
	if !handlePattern.MatchString(c.Handle) {
		return fmt.Errorf("invalid device handle %q: must be an identifier", c.Handle)
	}
	switch c.Kind {
	case KindSerial:
		if c.Address == "" {
			return fmt.Errorf("device %s: serial port path required", c.Handle)
		}
		if _, err := c.Port.Normalize(); err != nil {
			return fmt.Errorf("device %s: %w", c.Handle, err)
		}
	case KindTCP:
		if c.Address == "" {
			return fmt.Errorf("device %s: network address required", c.Handle)
		}
	case KindSimulated:
		if m := c.Settings["model"]; m != "" {
			if _, ok := models[m]; !ok {
				return fmt.Errorf("device %s: unknown simulation model %q", c.Handle, m)
			}
		}
	default:
		return fmt.Errorf("device %s: unknown kind %q (expected %s, %s or %s)",
			c.Handle, c.Kind, KindSerial, KindTCP, KindSimulated)
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("device %s: invalid timeout %q: %w", c.Handle, c.Timeout, err)
		}
	}
	return nil
}

// GetName returns the display name, defaulting to the handle.
func (c Config) GetName() string {
	if c.Name == "" {
		return c.Handle
	}
	return c.Name
}

// GetTimeout returns the parsed timeout or DefaultTimeout.
func (c Config) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return DefaultTimeout
	}
	return d
}

func (c Config) scpiOptions() []SCPIOption {
	opts := []SCPIOption{WithTimeout(c.GetTimeout())}
	if c.Terminator != "" {
		opts = append(opts, WithTerminator(c.Terminator))
	}
	if c.ErrorChecking != nil && !*c.ErrorChecking {
		opts = append(opts, WithoutErrorChecking())
	}
	return opts
}
