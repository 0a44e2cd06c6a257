// Package config centralises file-based configuration for md-replay commands.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GeoCodeCrafter/md-replay/errs"
)

// TickFile describes a tick-size configuration document.
//
// Tick sizes are decimal strings; DefaultTick applies to every symbol
// without an explicit override.
type TickFile struct {
	DefaultTick string            `yaml:"default_tick"`
	Symbols     map[string]string `yaml:"symbols"`
}

// DefaultTickFile returns the configuration used when no tick config is supplied.
func DefaultTickFile() TickFile {
	return TickFile{
		DefaultTick: "0.01",
		Symbols:     nil,
	}
}

// LoadTickFile reads and decodes a YAML tick configuration.
func LoadTickFile(path string) (TickFile, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is operator provided via CLI flags.
	if err != nil {
		return TickFile{}, fmt.Errorf("read tick config: %w", err)
	}
	var cfg TickFile
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return TickFile{}, errs.New(errs.KindConfigurationInvalid,
			errs.WithMessage("tick config parse failed"),
			errs.WithPath(path),
			errs.WithCause(err))
	}
	if cfg.DefaultTick == "" {
		return TickFile{}, errs.New(errs.KindConfigurationInvalid,
			errs.WithMessage("tick config missing default_tick"),
			errs.WithPath(path))
	}
	return cfg, nil
}

// LoadTickFileOrDefault loads the tick config at path, or returns the
// default configuration when path is empty.
func LoadTickFileOrDefault(path string) (TickFile, error) {
	if path == "" {
		return DefaultTickFile(), nil
	}
	return LoadTickFile(path)
}

// ReplayDefaults describes server-side replay defaults in YAML form.
// Nothing in this package loads it; serve and ui take their replay
// defaults from command-line flags.
type ReplayDefaults struct {
	FromNS   uint64  `yaml:"from_ns"`
	ToNS     uint64  `yaml:"to_ns"`
	Speed    float64 `yaml:"speed"`
	MaxSpeed bool    `yaml:"max_speed"`
	StepMode bool    `yaml:"step_mode"`
}
