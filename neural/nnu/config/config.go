// Package config loads training configuration from TOML, YAML and the environment.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/golangast/gpt/neural/nn"
)

type Model struct {
	EmbeddingDim   int    `toml:"embedding_dim" yaml:"embedding_dim" json:"embedding_dim"`
	HiddenDim      int    `toml:"hidden_dim" yaml:"hidden_dim" json:"hidden_dim"`
	MaxSeqLen      int    `toml:"max_seq_len" yaml:"max_seq_len" json:"max_seq_len"`
	NumBlocks      int    `toml:"num_blocks" yaml:"num_blocks" json:"num_blocks"`
	MaxGenerateLen int    `toml:"max_generate_len" yaml:"max_generate_len" json:"max_generate_len"`
	Seed           uint64 `toml:"seed" yaml:"seed" json:"seed"`
}

type Training struct {
	PretrainingEpochs  int     `toml:"pretraining_epochs" yaml:"pretraining_epochs" json:"pretraining_epochs"`
	FinetuningEpochs   int     `toml:"finetuning_epochs" yaml:"finetuning_epochs" json:"finetuning_epochs"`
	PretrainingLR      float32 `toml:"pretraining_lr" yaml:"pretraining_lr" json:"pretraining_lr"`
	FinetuningLR       float32 `toml:"finetuning_lr" yaml:"finetuning_lr" json:"finetuning_lr"`
	GradientClip       float32 `toml:"gradient_clip" yaml:"gradient_clip" json:"gradient_clip"`
	CheckpointEnabled  bool    `toml:"checkpoint_enabled" yaml:"checkpoint_enabled" json:"checkpoint_enabled"`
	CheckpointInterval int     `toml:"checkpoint_interval" yaml:"checkpoint_interval" json:"checkpoint_interval"`
}

type Data struct {
	PretrainingData  string `toml:"pretraining_data" yaml:"pretraining_data" json:"pretraining_data"`
	ChatTrainingData string `toml:"chat_training_data" yaml:"chat_training_data" json:"chat_training_data"`
	Format           string `toml:"format" yaml:"format" json:"format"` // json or csv
}

type Output struct {
	CheckpointDir  string `toml:"checkpoint_dir" yaml:"checkpoint_dir" json:"checkpoint_dir"`
	KeepBest       int    `toml:"keep_best" yaml:"keep_best" json:"keep_best"`
	LogLevel       string `toml:"log_level" yaml:"log_level" json:"log_level"`
	HistoryDB      string `toml:"history_db" yaml:"history_db" json:"history_db"`
	MetricsWindow  int    `toml:"metrics_window" yaml:"metrics_window" json:"metrics_window"`
	MetricsCSVPath string `toml:"metrics_csv" yaml:"metrics_csv" json:"metrics_csv"`
}

// Config is the full training configuration.
type Config struct {
	Model    Model    `toml:"model" yaml:"model" json:"model"`
	Training Training `toml:"training" yaml:"training" json:"training"`
	Data     Data     `toml:"data" yaml:"data" json:"data"`
	Output   Output   `toml:"output" yaml:"output" json:"output"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Model: Model{
			EmbeddingDim:   128,
			HiddenDim:      256,
			MaxSeqLen:      80,
			NumBlocks:      3,
			MaxGenerateLen: 80,
			Seed:           42,
		},
		Training: Training{
			PretrainingEpochs:  300,
			FinetuningEpochs:   300,
			PretrainingLR:      0.0005,
			FinetuningLR:       0.0001,
			GradientClip:       5.0,
			CheckpointEnabled:  true,
			CheckpointInterval: 10,
		},
		Data: Data{
			PretrainingData:  "data/pretraining_data.json",
			ChatTrainingData: "data/chat_training_data.json",
			Format:           "json",
		},
		Output: Output{
			CheckpointDir: "./checkpoints",
			KeepBest:      3,
			LogLevel:      "info",
			MetricsWindow: 100,
		},
	}
}

// FromTOML reads a TOML file over the defaults.
func FromTOML(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config %s: %v: %w", path, err, nn.ErrConfig)
	}
	return cfg, nil
}

// FromYAML reads a YAML file over the defaults.
func FromYAML(path string) (Config, error) {
	cfg := Default()
	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v: %w", err, nn.ErrConfig)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config %s: %v: %w", path, err, nn.ErrConfig)
	}
	return cfg, nil
}

// Load picks the parser from the file extension. An empty path yields Default.
func Load(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		if path == "" {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config %s has no extension: %w", path, nn.ErrConfig)
	case ".toml":
		return FromTOML(path)
	case ".yaml", ".yml":
		return FromYAML(path)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q: %w", filepath.Ext(path), nn.ErrConfig)
	}
}

// envOverrides maps GPT_* variables onto config fields.
var envOverrides = []struct {
	name  string
	apply func(*Config, string) error
}{
	{"GPT_EMBEDDING_DIM", intSetter(func(c *Config) *int { return &c.Model.EmbeddingDim })},
	{"GPT_HIDDEN_DIM", intSetter(func(c *Config) *int { return &c.Model.HiddenDim })},
	{"GPT_MAX_SEQ_LEN", intSetter(func(c *Config) *int { return &c.Model.MaxSeqLen })},
	{"GPT_NUM_BLOCKS", intSetter(func(c *Config) *int { return &c.Model.NumBlocks })},
	{"GPT_PRETRAINING_LR", floatSetter(func(c *Config) *float32 { return &c.Training.PretrainingLR })},
	{"GPT_FINETUNING_LR", floatSetter(func(c *Config) *float32 { return &c.Training.FinetuningLR })},
	{"GPT_GRADIENT_CLIP", floatSetter(func(c *Config) *float32 { return &c.Training.GradientClip })},
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func floatSetter(field func(*Config) *float32) func(*Config, string) error {
	return func(c *Config, s string) error {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return err
		}
		*field(c) = float32(v)
		return nil
	}
}

// FromEnv loads envFiles (default .env, missing files ignored) and applies GPT_*
// overrides on top of cfg.
func FromEnv(cfg Config, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to load %s: %v: %w", f, err, nn.ErrConfig)
		}
	}
	for _, o := range envOverrides {
		val, ok := os.LookupEnv(o.name)
		if !ok {
			continue
		}
		if err := o.apply(&cfg, val); err != nil {
			return cfg, fmt.Errorf("invalid %s value %q: %w", o.name, val, nn.ErrConfig)
		}
	}
	return cfg, nil
}

// SaveTOML writes cfg to path.
func (c Config) SaveTOML(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to serialize config: %v: %w", err, nn.ErrConfig)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects values training cannot run with.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"model.embedding_dim", c.Model.EmbeddingDim},
		{"model.hidden_dim", c.Model.HiddenDim},
		{"model.max_seq_len", c.Model.MaxSeqLen},
		{"model.num_blocks", c.Model.NumBlocks},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0: %w", p.name, nn.ErrConfig)
		}
	}
	if c.Training.PretrainingEpochs < 0 || c.Training.FinetuningEpochs < 0 {
		return fmt.Errorf("epochs must not be negative: %w", nn.ErrConfig)
	}
	if !(c.Training.PretrainingLR > 0) || !(c.Training.FinetuningLR > 0) {
		return fmt.Errorf("learning rates must be > 0: %w", nn.ErrConfig)
	}
	if !(c.Training.GradientClip > 0) {
		return fmt.Errorf("training.gradient_clip must be > 0: %w", nn.ErrConfig)
	}
	if c.Training.CheckpointEnabled && c.Training.CheckpointInterval <= 0 {
		return fmt.Errorf("training.checkpoint_interval must be > 0 when checkpoints are enabled: %w", nn.ErrConfig)
	}
	switch c.Data.Format {
	case "json", "csv":
	default:
		return fmt.Errorf("data.format must be json or csv, got %q: %w", c.Data.Format, nn.ErrConfig)
	}
	return nil
}
