// Package config provides configuration loading and management for
// toothanalyser. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"toothanalyser/pkg/segmentation"
	"toothanalyser/pkg/threshold"
	"toothanalyser/pkg/volume"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// NumWorkers is the number of scans segmented at the same time in batch mode
		NumWorkers int `yaml:"numWorkers"`

		// MaxVoxels rejects larger scans; 0 means unlimited
		MaxVoxels int `yaml:"maxVoxels"`
	} `yaml:"processing"`

	// Pre-smoothing parameters
	Smoothing struct {
		// MedianRadius is the radius of the median filter
		MedianRadius int `yaml:"medianRadius"`

		// SmoothnessLimit is the standard deviation below which a scan counts as smoothed
		SmoothnessLimit float64 `yaml:"smoothnessLimit"`
	} `yaml:"smoothing"`

	// Segmentation parameters
	Segmentation struct {
		// Algorithm is the enamel threshold algorithm
		Algorithm string `yaml:"algorithm"`

		// ToothAlgorithm is the threshold algorithm separating tooth from background
		ToothAlgorithm string `yaml:"toothAlgorithm"`

		// ComputeMidSurface enables the medial surface step
		ComputeMidSurface bool `yaml:"computeMidSurface"`

		ReconstructionRadius     int     `yaml:"reconstructionRadius"`
		PreparationClosingRadius int     `yaml:"preparationClosingRadius"`
		FinalClosingRadius       int     `yaml:"finalClosingRadius"`
		ContourRadius            int     `yaml:"contourRadius"`
		GaussianSigma            float64 `yaml:"gaussianSigma"`
		GaussianLevel            float64 `yaml:"gaussianLevel"`
		EnamelMinSize            int     `yaml:"enamelMinSize"`
		PreparedMinSize          int     `yaml:"preparedMinSize"`
		DentinMinSize            int     `yaml:"dentinMinSize"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// FileType is the suffix of the written volumes (.nrrd, .nii, .nii.gz, .mhd, .mha)
		FileType string `yaml:"fileType"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// Previews writes PNG slices of the label volume
		Previews bool `yaml:"previews"`

		// Meshes writes a binary STL surface per tissue
		Meshes bool `yaml:"meshes"`

		// Histogram writes the intensity histogram of the input as CSV
		Histogram bool `yaml:"histogram"`

		// Clean removes a previous result directory before writing
		Clean bool `yaml:"clean"`
	} `yaml:"output"`

	// Batch parameters
	Batch struct {
		// Suffixes are the file types collected from a source directory
		Suffixes []string `yaml:"suffixes"`
	} `yaml:"batch"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	p := segmentation.DefaultParams()

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.NumWorkers = 1
	cfg.Processing.MaxVoxels = 0

	cfg.Smoothing.MedianRadius = p.MedianRadius
	cfg.Smoothing.SmoothnessLimit = p.SmoothnessLimit

	cfg.Segmentation.Algorithm = p.Algorithm.Key()
	cfg.Segmentation.ToothAlgorithm = p.ToothAlgorithm.Key()
	cfg.Segmentation.ComputeMidSurface = false
	cfg.Segmentation.ReconstructionRadius = p.ReconstructionRadius
	cfg.Segmentation.PreparationClosingRadius = p.PreparationClosingRadius
	cfg.Segmentation.FinalClosingRadius = p.FinalClosingRadius
	cfg.Segmentation.ContourRadius = p.ContourRadius
	cfg.Segmentation.GaussianSigma = p.GaussianSigma
	cfg.Segmentation.GaussianLevel = p.GaussianLevel
	cfg.Segmentation.EnamelMinSize = p.EnamelMinSize
	cfg.Segmentation.PreparedMinSize = p.PreparedMinSize
	cfg.Segmentation.DentinMinSize = p.DentinMinSize

	cfg.Output.FileType = ".nrrd"
	cfg.Output.Verbose = false

	cfg.Batch.Suffixes = []string{".mhd", ".mha", ".nrrd", ".nhdr", ".nii", ".nii.gz"}

	return cfg
}

// Validate checks the configuration for values no run could use.
func (c *Config) Validate() error {
	if _, err := threshold.ParseAlgorithm(c.Segmentation.Algorithm); err != nil {
		return fmt.Errorf("segmentation.algorithm: %w", err)
	}
	if _, err := threshold.ParseAlgorithm(c.Segmentation.ToothAlgorithm); err != nil {
		return fmt.Errorf("segmentation.toothAlgorithm: %w", err)
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("%w: processing.numCores must be at least 1", volume.ErrConfiguration)
	}
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("%w: processing.numWorkers must be at least 1", volume.ErrConfiguration)
	}
	switch strings.ToLower(c.Output.FileType) {
	case ".nrrd", ".nhdr", ".nii", ".nii.gz", ".mhd", ".mha":
	default:
		return fmt.Errorf("%w: unsupported output.fileType %q", volume.ErrConfiguration, c.Output.FileType)
	}
	if len(c.Batch.Suffixes) == 0 {
		return fmt.Errorf("%w: batch.suffixes is empty", volume.ErrConfiguration)
	}
	p, err := c.SegmentationParams()
	if err != nil {
		return err
	}
	return p.Validate()
}

// SegmentationParams converts the configuration into segmenter parameters.
func (c *Config) SegmentationParams() (segmentation.Params, error) {
	p := segmentation.DefaultParams()
	var err error
	if p.Algorithm, err = threshold.ParseAlgorithm(c.Segmentation.Algorithm); err != nil {
		return p, err
	}
	if p.ToothAlgorithm, err = threshold.ParseAlgorithm(c.Segmentation.ToothAlgorithm); err != nil {
		return p, err
	}
	p.ComputeMidSurface = c.Segmentation.ComputeMidSurface
	p.MedianRadius = c.Smoothing.MedianRadius
	p.SmoothnessLimit = c.Smoothing.SmoothnessLimit
	p.ReconstructionRadius = c.Segmentation.ReconstructionRadius
	p.PreparationClosingRadius = c.Segmentation.PreparationClosingRadius
	p.FinalClosingRadius = c.Segmentation.FinalClosingRadius
	p.ContourRadius = c.Segmentation.ContourRadius
	p.GaussianSigma = c.Segmentation.GaussianSigma
	p.GaussianLevel = c.Segmentation.GaussianLevel
	p.EnamelMinSize = c.Segmentation.EnamelMinSize
	p.PreparedMinSize = c.Segmentation.PreparedMinSize
	p.DentinMinSize = c.Segmentation.DentinMinSize
	p.MaxVoxels = c.Processing.MaxVoxels
	return p, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file: %v", volume.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
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
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
