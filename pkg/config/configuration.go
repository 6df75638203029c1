// Package config implements the human-readable, YAML-loadable
// configuration for a synchronized directory pair.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// defaultMaximumTrackedFileSize is used when a configuration doesn't
// specify one; it matches the teacher's instinct to always ship a sane
// ceiling rather than leave a size limit unbounded by default.
const defaultMaximumTrackedFileSize = ByteSize(10 * 1 << 30) // 10 GiB

// Configuration represents a human-readable session configuration, loadable
// from YAML. Unlike the teacher's synchronization configuration, there is no
// configurable synchronization direction: this engine's SyncMode is always
// derived from the three-way join, never from an operator-selected mode.
type Configuration struct {
	// CaseSensitivity contains parameters controlling case-sensitivity
	// handling on the decrypted filesystem.
	CaseSensitivity struct {
		// Override forces case-(in)sensitive comparison regardless of what
		// the host filesystem probe would otherwise report. A nil value
		// means "probe the host filesystem".
		Override *bool `yaml:"override" mapstructure:"override"`
	} `yaml:"caseSensitivity" mapstructure:"caseSensitivity"`

	// MaximumTrackedFileSize is the largest individual file size this
	// engine will encrypt or decrypt; larger files are skipped and
	// reported as Structural errors rather than staged in memory.
	MaximumTrackedFileSize ByteSize `yaml:"maximumTrackedFileSize" mapstructure:"maximumTrackedFileSize"`

	// WhatIf specifies whether, absent an explicit per-run override, sync
	// runs default to dry-run mode.
	WhatIf bool `yaml:"whatIf" mapstructure:"whatIf"`

	// Ignore contains parameters related to ignoring paths on the
	// decrypted side during a scan.
	Ignore struct {
		// Paths specifies shell-style glob patterns (matched the way
		// path.Match matches a single path component) for decrypted
		// relative paths to exclude from synchronization entirely.
		Paths []string `yaml:"paths" mapstructure:"paths"`
	} `yaml:"ignore" mapstructure:"ignore"`
}

// Default returns a Configuration populated with this engine's defaults:
// case-sensitivity probed from the host filesystem, a 10 GiB tracked file
// size ceiling, and live (non-what-if) runs.
func Default() *Configuration {
	return &Configuration{
		MaximumTrackedFileSize: defaultMaximumTrackedFileSize,
	}
}

// Load reads and strictly decodes a YAML configuration file at path,
// starting from Default() so that any field the file omits keeps its
// default value.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read configuration file: %w", err)
	}

	configuration := Default()
	if err := yaml.UnmarshalStrict(data, configuration); err != nil {
		return nil, fmt.Errorf("unable to parse configuration file: %w", err)
	}

	if err := configuration.EnsureValid(); err != nil {
		return nil, err
	}

	return configuration, nil
}

// EnsureValid verifies the internal consistency of the configuration.
func (c *Configuration) EnsureValid() error {
	if c == nil {
		return fmt.Errorf("nil configuration")
	}
	if c.MaximumTrackedFileSize == 0 {
		return fmt.Errorf("maximum tracked file size must be non-zero")
	}
	for _, pattern := range c.Ignore.Paths {
		if pattern == "" {
			return fmt.Errorf("empty ignore pattern")
		}
	}
	return nil
}

// ResolveCaseInsensitive determines the case-sensitivity flag to use,
// honoring an explicit override if set and otherwise falling back to probe,
// a caller-supplied host filesystem probe (grounded in the teacher's
// ProbeMode design: an explicit configuration value always wins over
// runtime detection).
func (c *Configuration) ResolveCaseInsensitive(probe func() bool) bool {
	if c.CaseSensitivity.Override != nil {
		return !*c.CaseSensitivity.Override
	}
	return probe()
}
