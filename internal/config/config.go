// Package config holds the knobs of a training run.
package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	LearningRate   float64 `yaml:"learning_rate"`
	Epochs         int     `yaml:"epochs"`
	BatchSize      int     `yaml:"batch_size"`
	Convs          int     `yaml:"convs"`
	Blocks         int     `yaml:"blocks"`
	Connects       int     `yaml:"connects"`
	Outputs        int     `yaml:"outputs"`
	DataDir        string  `yaml:"data_dir"`
	ValidationSize int     `yaml:"validation_size"`
	Synthetic      bool    `yaml:"synthetic"`
	Seed           int64   `yaml:"seed"`
	CSVLog         string  `yaml:"csv_log"`
	Checkpoint     string  `yaml:"checkpoint"`
	Patience       int     `yaml:"patience"`
	Mirror         string  `yaml:"mirror"`
}

// Default returns the configuration of the reference run: two epochs at
// learning rate 0.001 over one conv per block, two blocks, two dense
// layers and ten outputs.
func Default() *Config {
	return &Config{
		LearningRate:   0.001,
		Epochs:         2,
		BatchSize:      50,
		Convs:          1,
		Blocks:         2,
		Connects:       2,
		Outputs:        10,
		DataDir:        "MNIST_data",
		ValidationSize: 5000,
		Seed:           1,
	}
}

// Overrides captures CLI supplied values. Zero values leave the config
// untouched.
type Overrides struct {
	LearningRate float64
	Epochs       int
	BatchSize    int
	Convs        int
	Blocks       int
	Connects     int
	Outputs      int
	DataDir      string
	Synthetic    bool
	Seed         int64
	CSVLog       string
	Checkpoint   string
	Patience     int
	Mirror       string

	// ValidationSize is a pointer because zero is a meaningful value.
	ValidationSize *int
}

// Load reads a Config from a YAML file on top of Default and validates
// it. Unknown keys are an error. An empty file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Convs > 0 {
		c.Convs = o.Convs
	}
	if o.Blocks > 0 {
		c.Blocks = o.Blocks
	}
	if o.Connects > 0 {
		c.Connects = o.Connects
	}
	if o.Outputs > 0 {
		c.Outputs = o.Outputs
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.Synthetic {
		c.Synthetic = true
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.CSVLog != "" {
		c.CSVLog = o.CSVLog
	}
	if o.Checkpoint != "" {
		c.Checkpoint = o.Checkpoint
	}
	if o.Patience > 0 {
		c.Patience = o.Patience
	}
	if o.Mirror != "" {
		c.Mirror = o.Mirror
	}
	if o.ValidationSize != nil {
		c.ValidationSize = *o.ValidationSize
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Convs < 0 || c.Blocks < 0 {
		return errors.Errorf("convs and blocks must be >= 0 (got %d, %d)", c.Convs, c.Blocks)
	}
	if c.Connects <= 0 {
		return errors.Errorf("connects must be > 0 (got %d)", c.Connects)
	}
	if c.Outputs <= 0 {
		return errors.Errorf("outputs must be > 0 (got %d)", c.Outputs)
	}
	if !c.Synthetic && c.DataDir == "" {
		return errors.New("data_dir must be set unless synthetic is true")
	}
	if c.ValidationSize < 0 {
		return errors.Errorf("validation_size must be >= 0 (got %d)", c.ValidationSize)
	}
	if c.Patience < 0 {
		return errors.Errorf("patience must be >= 0 (got %d)", c.Patience)
	}
	return nil
}
