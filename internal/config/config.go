// Package config holds project constants and the optional bytenode.yaml
// overrides for things that are engine-build-sensitive: the artifact header
// offset table and the alternate-runtime host command.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level bytenode.yaml configuration.
type Config struct {
	// Host configures the alternate-runtime compile path.
	Host HostConfig `yaml:"host,omitempty"`

	// Headers overrides the artifact header layout per format version.
	// Keyed by format version number. Only needed when targeting an engine
	// build whose cache header moved the patched fields.
	Headers map[int]HeaderOverride `yaml:"headers,omitempty"`
}

// HostConfig describes how to reach the GUI-host runtime.
type HostConfig struct {
	// Command is the host executable and its arguments
	// (e.g. ["electron", "host.js"]). Defaults to DefaultHostCommand.
	Command []string `yaml:"command,omitempty"`

	// TimeoutSeconds bounds the ready wait plus compile round trip.
	// Defaults to DefaultHostTimeoutSeconds.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// HeaderOverride relocates the patched header fields for one format version.
type HeaderOverride struct {
	RejectedOffset     int `yaml:"rejected_offset"`
	SourceLengthOffset int `yaml:"source_length_offset"`
	ChecksumOffset     int `yaml:"checksum_offset"`
	HeaderSize         int `yaml:"header_size"`
}

// Load reads and validates a bytenode.yaml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks field-level consistency.
func (c *Config) Validate() error {
	if c.Host.TimeoutSeconds < 0 {
		return fmt.Errorf("host.timeout_seconds must be >= 0, got %d", c.Host.TimeoutSeconds)
	}
	for ver, h := range c.Headers {
		if ver <= 0 || ver > 255 {
			return fmt.Errorf("headers key must be a format version in 1..255, got %d", ver)
		}
		if h.HeaderSize <= 0 {
			return fmt.Errorf("headers[%d].header_size must be positive", ver)
		}
		for name, off := range map[string]int{
			"rejected_offset":      h.RejectedOffset,
			"source_length_offset": h.SourceLengthOffset,
			"checksum_offset":      h.ChecksumOffset,
		} {
			if off < 0 || off >= h.HeaderSize {
				return fmt.Errorf("headers[%d].%s out of range: %d", ver, name, off)
			}
		}
	}
	return nil
}

// HostCommand returns the configured host command or the default.
func (c *Config) HostCommand() []string {
	if c != nil && len(c.Host.Command) > 0 {
		return c.Host.Command
	}
	return DefaultHostCommand
}

// HostTimeoutSeconds returns the configured host timeout or the default.
func (c *Config) HostTimeoutSeconds() int {
	if c != nil && c.Host.TimeoutSeconds > 0 {
		return c.Host.TimeoutSeconds
	}
	return DefaultHostTimeoutSeconds
}
