// Package config provides configuration loading and management for gibbstrack.
// It handles loading configuration from YAML files merged over embedded defaults.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"gibbstrack/pkg/tracking"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config represents the application configuration loaded from YAML
type Config struct {
	// Tracking parameters
	Tracking struct {
		// Iterations is the total number of proposals of a run
		Iterations int64 `yaml:"iterations"`

		// Rounds is the number of annealing rounds
		Rounds int `yaml:"rounds"`

		// ParticleLength and ParticleWidth in mm, 0 derives them from the voxel spacing
		ParticleLength float64 `yaml:"particleLength"`
		ParticleWidth  float64 `yaml:"particleWidth"`

		// ParticleWeight scales the data fit, 0 calibrates it
		ParticleWeight float64 `yaml:"particleWeight"`

		StartTemperature    float64 `yaml:"startTemperature"`
		EndTemperature      float64 `yaml:"endTemperature"`
		Balance             float64 `yaml:"balance"`
		ConnectionPotential float64 `yaml:"connectionPotential"`
		ChemicalPotential   float64 `yaml:"chemicalPotential"`

		// MinFiberLength drops shorter fibers (mm)
		MinFiberLength float64 `yaml:"minFiberLength"`

		// CurvatureThreshold in degrees
		CurvatureThreshold float64 `yaml:"curvatureThreshold"`

		// Seed makes runs reproducible, nil uses a time based seed
		Seed *int64 `yaml:"seed,omitempty"`

		// LUTPath is the direction lookup table file
		LUTPath string `yaml:"lutPath"`
	} `yaml:"tracking"`

	// Particle weight calibration
	Calibration struct {
		Target          int     `yaml:"target"`
		Switch          int     `yaml:"switch"`
		MaxIterations   int     `yaml:"maxIterations"`
		BurstIterations int64   `yaml:"burstIterations"`
		InitialWeight   float64 `yaml:"initialWeight"`
	} `yaml:"calibration"`

	// Particle grid
	Grid struct {
		// BucketCapacity limits the particles per grid cell
		BucketCapacity int `yaml:"bucketCapacity"`
	} `yaml:"grid"`

	// Output parameters
	Output struct {
		// Dir receives fibers, round statistics and snapshots
		Dir string `yaml:"dir"`

		// CSV enables the CSV outputs
		CSV bool `yaml:"csv"`

		// SQLitePath archives runs in a database when set
		SQLitePath string `yaml:"sqlitePath"`

		// SnapshotEvery writes intermediate fibers every N rounds, 0 disables
		SnapshotEvery int `yaml:"snapshotEvery"`

		// FieldImages writes projections of the input field's peak response
		// and mask as PNG
		FieldImages bool `yaml:"fieldImages"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Format is text or json
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("parsing embedded defaults: %v", err))
	}
	return cfg
}

// LoadConfig loads configuration from a YAML file merged over the defaults.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// TrackingParams converts the configuration into tracking parameters
func (c *Config) TrackingParams() tracking.Params {
	t := c.Tracking
	p := tracking.Params{
		Iterations:          t.Iterations,
		Rounds:              t.Rounds,
		ParticleLength:      t.ParticleLength,
		ParticleWidth:       t.ParticleWidth,
		ParticleWeight:      t.ParticleWeight,
		StartTemperature:    t.StartTemperature,
		EndTemperature:      t.EndTemperature,
		Balance:             t.Balance,
		ConnectionPotential: t.ConnectionPotential,
		ChemicalPotential:   t.ChemicalPotential,
		MinFiberLength:      t.MinFiberLength,
		CurvatureThreshold:  t.CurvatureThreshold,
		LUTPath:             t.LUTPath,
		BucketCapacity:      c.Grid.BucketCapacity,
		SnapshotEvery:       c.Output.SnapshotEvery,
		Calibration: tracking.Calibration{
			Target:          c.Calibration.Target,
			Switch:          c.Calibration.Switch,
			MaxIterations:   c.Calibration.MaxIterations,
			BurstIterations: c.Calibration.BurstIterations,
			InitialWeight:   c.Calibration.InitialWeight,
		},
	}
	if t.Seed != nil {
		seed := *t.Seed
		p.Seed = &seed
	}
	return p
}

// SlogLevel maps Logging.Level to a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
