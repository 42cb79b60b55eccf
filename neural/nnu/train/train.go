package train

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/golangast/gpt/internal/sqlite_db"
	"github.com/golangast/gpt/neural/llm"
	"github.com/golangast/gpt/neural/nnu/config"
	"github.com/golangast/gpt/neural/nnu/gobs"
	"github.com/golangast/gpt/neural/nnu/metrics"
	"github.com/golangast/gpt/neural/nnu/vocab"
)

// Phase names used in checkpoints and run history.
const (
	PhasePretraining       = "pretraining"
	PhaseInstructionTuning = "instruction_tuning"
)

// Phase is one training pass with its own corpus, epochs and learning rate.
type Phase struct {
	Name     string
	Examples []string
	Epochs   int
	LR       float32
}

// Trainer runs training phases on a model and records their progress.
// Metrics, Checkpoints, History and Progress are optional.
type Trainer struct {
	Model  *llm.LLM
	Config config.Config

	Metrics     *metrics.Metrics
	Checkpoints *gobs.Manager
	History     *sql.DB
	Progress    func(phase string, r llm.EpochReport)

	// step counts epochs across phases so checkpoint names stay unique
	step int
}

// ModelConfig extracts the model hyperparameters from cfg.
func ModelConfig(cfg config.Config) llm.Config {
	return llm.Config{
		EmbeddingDim:   cfg.Model.EmbeddingDim,
		HiddenDim:      cfg.Model.HiddenDim,
		MaxSeqLen:      cfg.Model.MaxSeqLen,
		NumBlocks:      cfg.Model.NumBlocks,
		GradientClip:   cfg.Training.GradientClip,
		MaxGenerateLen: cfg.Model.MaxGenerateLen,
		Seed:           cfg.Model.Seed,
	}
}

// BuildVocab collects every token of both corpora.
func BuildVocab(d *Dataset) *vocab.Vocab {
	texts := make([]string, 0, d.TotalSamples())
	texts = append(texts, d.Pretraining...)
	texts = append(texts, d.Chat...)
	return vocab.FromTexts(texts)
}

// NewModel builds a vocabulary from d and a fresh model for cfg.
func NewModel(cfg config.Config, d *Dataset) (*llm.LLM, error) {
	return llm.New(ModelConfig(cfg), BuildVocab(d))
}

// ModelFromCheckpoint rebuilds the model described by a checkpoint's metadata
// and loads its parameters.
func ModelFromCheckpoint(c *gobs.Checkpoint, v *vocab.Vocab) (*llm.LLM, error) {
	var cfg llm.Config
	if err := json.Unmarshal([]byte(c.Metadata.Config), &cfg); err != nil {
		return nil, fmt.Errorf("checkpoint has no usable model config: %w", err)
	}
	m, err := llm.New(cfg, v)
	if err != nil {
		return nil, err
	}
	if err := m.LoadParameters(c.Parameters); err != nil {
		return nil, fmt.Errorf("checkpoint does not fit the model: %w", err)
	}
	return m, nil
}

// Phases returns pre-training followed by instruction tuning.
func (t *Trainer) Phases(d *Dataset) []Phase {
	return []Phase{
		{PhasePretraining, d.Pretraining, t.Config.Training.PretrainingEpochs, t.Config.Training.PretrainingLR},
		{PhaseInstructionTuning, d.Chat, t.Config.Training.FinetuningEpochs, t.Config.Training.FinetuningLR},
	}
}

// Run trains every phase in order. Phases without examples or epochs are skipped.
func (t *Trainer) Run(ctx context.Context, d *Dataset) error {
	for _, p := range t.Phases(d) {
		if len(p.Examples) == 0 || p.Epochs == 0 {
			log.Printf("Skipping %s: %d examples, %d epochs", p.Name, len(p.Examples), p.Epochs)
			continue
		}
		if _, err := t.RunPhase(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
	}
	return nil
}

// RunPhase trains one phase and returns its per-epoch losses.
func (t *Trainer) RunPhase(ctx context.Context, p Phase) ([]float32, error) {
	log.Printf("%s on %d examples for %d epochs with learning rate %g", p.Name, len(p.Examples), p.Epochs, p.LR)

	var runID int64
	if t.History != nil {
		var err error
		if runID, err = sqlite_db.StartRun(t.History, p.Name, t.configJSON()); err != nil {
			return nil, err
		}
	}

	observe := func(r llm.EpochReport) {
		t.step++
		if t.Metrics != nil {
			t.Metrics.RecordLoss(r.AvgLoss)
			t.Metrics.RecordGradientNorm(r.GradNorm)
			t.Metrics.RecordLearningRate(p.LR)
		}
		if t.History != nil {
			if err := sqlite_db.RecordEpoch(t.History, runID, r.Epoch, r.AvgLoss, r.GradNorm, r.Skipped); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
		if t.Checkpoints != nil && t.Config.Training.CheckpointEnabled &&
			t.Config.Training.CheckpointInterval > 0 && r.Epoch%t.Config.Training.CheckpointInterval == 0 {
			if _, err := t.SaveCheckpoint(p.Name, r.AvgLoss); err != nil {
				log.Printf("Warning: checkpoint at %s epoch %d failed: %v", p.Name, r.Epoch, err)
			}
		}
		if t.Progress != nil {
			t.Progress(p.Name, r)
		}
	}
	return t.Model.TrainWithObserver(ctx, p.Examples, p.Epochs, p.LR, observe)
}

// SaveCheckpoint snapshots the model through the checkpoint manager.
func (t *Trainer) SaveCheckpoint(phase string, loss float32) (string, error) {
	if t.Checkpoints == nil {
		return "", fmt.Errorf("no checkpoint manager configured")
	}
	c := gobs.NewCheckpoint(t.step, loss, t.configJSON())
	c.Metadata.Phase = phase
	c.AddParameters(t.Model.Parameters()...)
	return t.Checkpoints.Save(c)
}

func (t *Trainer) configJSON() string { return ConfigJSON(t.Model.Config) }

// ConfigJSON encodes cfg for checkpoint metadata and run history.
func ConfigJSON(cfg llm.Config) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "{}"
	}
	return string(b)
}
