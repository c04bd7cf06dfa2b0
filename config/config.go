package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMissingKey is returned when a required configuration key is absent.
var ErrMissingKey = errors.New("config: missing required key")

// RequiredKeys lists the dotted keys every configuration must carry.
var RequiredKeys = []string{
	"train.validation_split",
	"train.epochs",
	"train.train_batch_size",
	"train.val_batch_size",
	"train.initial_learning_rate",
	"train.decay_steps",
	"train.decay_rate",
	"model.model_path",
	"model.experiment_name",
}

// Config holds the hyperparameters of a training run.
type Config struct {
	Train TrainConfig `yaml:"train"`
	Model ModelConfig `yaml:"model"`
	Data  DataConfig  `yaml:"data"`
	Eval  EvalConfig  `yaml:"eval"`
}

// TrainConfig holds optimizer, schedule and generator settings.
type TrainConfig struct {
	ValidationSplit     float64 `yaml:"validation_split"`
	Epochs              int     `yaml:"epochs"`
	TrainBatchSize      int     `yaml:"train_batch_size"`
	ValBatchSize        int     `yaml:"val_batch_size"`
	InitialLearningRate float64 `yaml:"initial_learning_rate"`
	DecaySteps          int     `yaml:"decay_steps"`
	DecayRate           float64 `yaml:"decay_rate"`
	Staircase           bool    `yaml:"staircase"`

	// StepsPerEpoch overrides the derived step count when > 0.
	StepsPerEpoch  int   `yaml:"steps_per_epoch"`
	Shuffle        bool  `yaml:"shuffle"`
	HorizontalFlip bool  `yaml:"horizontal_flip"`
	VerticalFlip   bool  `yaml:"vertical_flip"`
	Seed           int64 `yaml:"seed"`
}

// ModelConfig holds output locations.
type ModelConfig struct {
	ModelPath      string `yaml:"model_path"`
	ExperimentName string `yaml:"experiment_name"`
}

// DataConfig locates the paired image dataset.
type DataConfig struct {
	Path     string `yaml:"path"`
	Manifest string `yaml:"manifest"`
}

// EvalConfig controls result plotting.
type EvalConfig struct {
	Samples int `yaml:"samples"`
}

func defaults() *Config {
	return &Config{
		Train: TrainConfig{Shuffle: true},
		Data:  DataConfig{Manifest: "pairs.csv"},
		Eval:  EvalConfig{Samples: 4},
	}
}

// Load reads and validates a Config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for _, key := range RequiredKeys {
		if !hasKey(&root, key) {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
	}

	cfg := defaults()
	if err := root.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	t := c.Train
	if t.ValidationSplit < 0 || t.ValidationSplit >= 1 {
		return fmt.Errorf("train.validation_split must be in [0, 1) (got %v)", t.ValidationSplit)
	}
	if t.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be > 0 (got %d)", t.Epochs)
	}
	if t.TrainBatchSize <= 0 {
		return fmt.Errorf("train.train_batch_size must be > 0 (got %d)", t.TrainBatchSize)
	}
	if t.ValBatchSize <= 0 {
		return fmt.Errorf("train.val_batch_size must be > 0 (got %d)", t.ValBatchSize)
	}
	if t.InitialLearningRate <= 0 {
		return fmt.Errorf("train.initial_learning_rate must be > 0 (got %v)", t.InitialLearningRate)
	}
	if t.DecaySteps <= 0 {
		return fmt.Errorf("train.decay_steps must be > 0 (got %d)", t.DecaySteps)
	}
	if t.DecayRate <= 0 {
		return fmt.Errorf("train.decay_rate must be > 0 (got %v)", t.DecayRate)
	}
	if t.StepsPerEpoch < 0 {
		return fmt.Errorf("train.steps_per_epoch must be >= 0 (got %d)", t.StepsPerEpoch)
	}
	if c.Model.ModelPath == "" {
		return errors.New("model.model_path must not be empty")
	}
	if c.Model.ExperimentName == "" {
		return errors.New("model.experiment_name must not be empty")
	}
	if c.Eval.Samples <= 0 {
		c.Eval.Samples = 4
	}
	return nil
}

// hasKey walks mapping nodes following a dotted key.
func hasKey(root *yaml.Node, key string) bool {
	node := root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return false
		}
		node = node.Content[0]
	}

	for _, part := range strings.Split(key, ".") {
		if node.Kind != yaml.MappingNode {
			return false
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == part {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil || next.Tag == "!!null" {
			return false
		}
		node = next
	}

	return true
}
