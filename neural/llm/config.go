package llm

import (
	"fmt"

	"github.com/golangast/gpt/neural/nn"
)

// Config holds the model hyperparameters. Vocabulary size comes from the vocabulary.
type Config struct {
	EmbeddingDim int     `json:"embedding_dim"`
	HiddenDim    int     `json:"hidden_dim"`
	MaxSeqLen    int     `json:"max_seq_len"`
	NumBlocks    int     `json:"num_blocks"`
	GradientClip float32 `json:"gradient_clip"`
	// MaxGenerateLen caps generated tokens per prompt; 0 leaves only the
	// context window as the bound.
	MaxGenerateLen int    `json:"max_generate_len"`
	Seed           uint64 `json:"seed"`
}

// DefaultConfig returns the hyperparameters the CLI trains with.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim:   128,
		HiddenDim:      256,
		MaxSeqLen:      80,
		NumBlocks:      3,
		GradientClip:   5.0,
		MaxGenerateLen: 80,
		Seed:           42,
	}
}

// Validate reports non-positive or inconsistent hyperparameters as nn.ErrArchitecture.
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"embedding_dim", c.EmbeddingDim},
		{"hidden_dim", c.HiddenDim},
		{"max_seq_len", c.MaxSeqLen},
		{"num_blocks", c.NumBlocks},
	}
	for _, ch := range checks {
		if ch.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d: %w", ch.name, ch.value, nn.ErrArchitecture)
		}
	}
	if c.MaxSeqLen < 2 {
		return fmt.Errorf("max_seq_len must allow an input and a target, got %d: %w", c.MaxSeqLen, nn.ErrArchitecture)
	}
	if !(c.GradientClip > 0) {
		return fmt.Errorf("gradient_clip must be positive, got %v: %w", c.GradientClip, nn.ErrArchitecture)
	}
	if c.MaxGenerateLen < 0 {
		return fmt.Errorf("max_generate_len must not be negative, got %d: %w", c.MaxGenerateLen, nn.ErrArchitecture)
	}
	return nil
}
