package dcm2nii

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SliceOrder selects how the slices of a series are put in order before they
// are stacked.
type SliceOrder string

const (
	// OrderByPosition sorts slices by the projection of ImagePositionPatient
	// onto the slice normal.
	OrderByPosition SliceOrder = "position"

	// OrderByInstanceNumber sorts slices by InstanceNumber (0020,0013).
	OrderByInstanceNumber SliceOrder = "instanceNumber"
)

// Config is handed to the reader and the converter when they are built. There
// is no package-level state: two readers with different configs may coexist.
type Config struct {
	// AssumeLittleEndian makes the reader accept files that lack the 128 byte
	// preamble and DICM magic, treating them as bare implicit VR little endian
	// datasets (old ACR-NEMA style exports).
	AssumeLittleEndian bool `yaml:"assumeLittleEndian"`

	ForceSliceOrderBy SliceOrder `yaml:"forceSliceOrderBy"`

	// Reorient is the default used by the binaries when no -reorient flag is
	// given.
	Reorient bool `yaml:"reorient"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		AssumeLittleEndian: false,
		ForceSliceOrderBy:  OrderByPosition,
		Reorient:           true,
	}
}

// Validate rejects unknown slice orderings.
func (c Config) Validate() error {
	switch c.ForceSliceOrderBy {
	case OrderByPosition, OrderByInstanceNumber:
		return nil
	case "":
		return fmt.Errorf("forceSliceOrderBy must be set (%q or %q)", OrderByPosition, OrderByInstanceNumber)
	default:
		return fmt.Errorf("unknown forceSliceOrderBy %q (want %q or %q)", c.ForceSliceOrderBy, OrderByPosition, OrderByInstanceNumber)
	}
}

// LoadConfig reads a YAML config. If the file doesn't exist, the defaults are
// returned. Keys missing from the file keep their default values.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	configPath = ExpandHome(configPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating the parent directory if needed.
func SaveConfig(cfg Config, configPath string) error {
	configPath = ExpandHome(configPath)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}
