// Package config provides configuration loading and management for bratsdataset.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML or TOML
type Config struct {
	// Dataset controls how the catalog is discovered
	Dataset struct {
		// Source is the search root, or an allow-list .txt file whose
		// directory becomes the search root
		Source string `yaml:"source" toml:"source"`

		// ListFile is an explicit allow-list. When set, Source is always the
		// search root and the allow-list is always active.
		ListFile string `yaml:"listFile" toml:"listFile"`

		// RequireAllowList fails the build unless an allow-list is found
		RequireAllowList bool `yaml:"requireAllowList" toml:"requireAllowList"`

		// TestMode drops the label modality; samples mirror the image
		TestMode bool `yaml:"testMode" toml:"testMode"`

		// Modalities lists the image channels in stacking order
		Modalities []string `yaml:"modalities" toml:"modalities"`

		// Label is the ground-truth modality used outside test mode
		Label string `yaml:"label" toml:"label"`

		// ModalityRule is "suffix" (token after the last underscore) or
		// "positional" (token at ModalityIndex)
		ModalityRule string `yaml:"modalityRule" toml:"modalityRule"`

		// ModalityIndex is the underscore token index for the positional rule
		ModalityIndex int `yaml:"modalityIndex" toml:"modalityIndex"`
	} `yaml:"dataset" toml:"dataset"`

	// Sampling controls how samples are cut from each patient
	Sampling struct {
		// Variant is "volume" for whole volumes or "slice" for 2D planes
		Variant string `yaml:"variant" toml:"variant"`

		// Crop is trimmed from both ends of the last two axes of a volume
		Crop int `yaml:"crop" toml:"crop"`

		// SliceCrop is trimmed from both ends of each plane axis
		SliceCrop int `yaml:"sliceCrop" toml:"sliceCrop"`

		// SliceDepth is the number of slices every volume must have
		SliceDepth int `yaml:"sliceDepth" toml:"sliceDepth"`

		// Seed makes transforms reproducible; zero picks a random seed
		Seed uint64 `yaml:"seed" toml:"seed"`

		// Transforms lists augmentation specs, e.g. "flip:0:0.5" or "rot90"
		Transforms []string `yaml:"transforms" toml:"transforms"`
	} `yaml:"sampling" toml:"sampling"`

	// Logging controls log output
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" toml:"level"`

		// Development switches to human-readable console output
		Development bool `yaml:"development" toml:"development"`

		// File, when set, receives logs with size-based rotation
		File string `yaml:"file" toml:"file"`

		// MaxSizeMB is the size at which the log file is rotated
		MaxSizeMB int `yaml:"maxSizeMB" toml:"maxSizeMB"`

		// MaxAgeDays is how long rotated files are kept
		MaxAgeDays int `yaml:"maxAgeDays" toml:"maxAgeDays"`

		// MaxBackups is how many rotated files are kept
		MaxBackups int `yaml:"maxBackups" toml:"maxBackups"`
	} `yaml:"logging" toml:"logging"`

	// Stats controls the statistics scan
	Stats struct {
		// Workers is how many patients are scanned in parallel
		Workers int `yaml:"workers" toml:"workers"`
	} `yaml:"stats" toml:"stats"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// BraTS layout defaults
	cfg.Dataset.Source = "."
	cfg.Dataset.Modalities = []string{"t1", "t1ce", "t2", "flair"}
	cfg.Dataset.Label = "seg"
	cfg.Dataset.ModalityRule = "suffix"
	cfg.Dataset.ModalityIndex = 3

	// 240x240 planes cropped to 224x224, 155 axial slices
	cfg.Sampling.Variant = "volume"
	cfg.Sampling.Crop = 8
	cfg.Sampling.SliceCrop = 0
	cfg.Sampling.SliceDepth = 155
	cfg.Sampling.Transforms = []string{}

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxAgeDays = 30

	cfg.Stats.Workers = runtime.NumCPU() // Use all available cores by default

	return cfg
}

// isTOML reports whether a path should be read as TOML rather than YAML
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse by extension
	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable
func (c *Config) Validate() error {
	if len(c.Dataset.Modalities) == 0 {
		return fmt.Errorf("dataset.modalities must not be empty")
	}
	seen := make(map[string]bool)
	for _, m := range append(append([]string(nil), c.Dataset.Modalities...), c.Dataset.Label) {
		if m == "" {
			continue
		}
		if seen[m] {
			return fmt.Errorf("modality %q listed twice", m)
		}
		seen[m] = true
	}

	switch strings.ToLower(c.Dataset.ModalityRule) {
	case "", "suffix":
	case "positional":
		if c.Dataset.ModalityIndex < 0 {
			return fmt.Errorf("dataset.modalityIndex must be non-negative")
		}
	default:
		return fmt.Errorf("unknown dataset.modalityRule %q", c.Dataset.ModalityRule)
	}

	switch strings.ToLower(c.Sampling.Variant) {
	case "", "volume", "3d", "slice", "2d":
	default:
		return fmt.Errorf("unknown sampling.variant %q", c.Sampling.Variant)
	}
	if c.Sampling.Crop < 0 || c.Sampling.SliceCrop < 0 {
		return fmt.Errorf("crop margins must be non-negative")
	}
	if c.Sampling.SliceDepth <= 0 {
		return fmt.Errorf("sampling.sliceDepth must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config
	var data []byte
	var err error
	if isTOML(configPath) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
