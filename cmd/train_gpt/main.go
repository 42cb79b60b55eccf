package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"

	"github.com/golangast/gpt/internal/sqlite_db"
	"github.com/golangast/gpt/neural/llm"
	"github.com/golangast/gpt/neural/nnu/config"
	"github.com/golangast/gpt/neural/nnu/gobs"
	"github.com/golangast/gpt/neural/nnu/metrics"
	"github.com/golangast/gpt/neural/nnu/train"
)

var (
	configPath       = flag.String("config", "", "Path to a TOML or YAML configuration file")
	envFile          = flag.String("env_file", ".env", "Optional .env file with GPT_* overrides")
	logLevel         = flag.String("log_level", "", "Logging level (debug, info, warn, error); overrides the config")
	logFile          = flag.String("log_file", "", "Append log output to this file instead of stderr")
	pretrainingData  = flag.String("pretraining_data", "", "Path to pre-training data; overrides the config")
	chatTrainingData = flag.String("chat_training_data", "", "Path to chat training data; overrides the config")
	outputDir        = flag.String("output", "", "Checkpoint directory; overrides the config")
	historyDB        = flag.String("history_db", "", "SQLite file recording per-epoch losses")
	seed             = flag.Uint64("seed", 0, "Weight initialisation seed; 0 keeps the config value")
	testPrompt       = flag.String("prompt", "User: How do mountains form?", "Prompt shown before and after training")
)

var levels = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

var minLevel = 1

func logf(level, format string, args ...interface{}) {
	if levels[level] >= minLevel {
		log.Printf(format, args...)
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg, err = config.FromEnv(cfg, *envFile); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}
	applyFlags(&cfg)
	if lvl, ok := levels[cfg.Output.LogLevel]; ok {
		minLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logf("info", "Configuration loaded and validated")
	logf("debug", "Configuration:\n%s", spew.Sdump(cfg))

	dataset, err := train.LoadDataset(cfg.Data.PretrainingData, cfg.Data.ChatTrainingData, cfg.Data.Format)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	if err := dataset.Validate(); err != nil {
		log.Fatalf("Invalid dataset: %v", err)
	}

	model, err := train.NewModel(cfg, dataset)
	if err != nil {
		log.Fatalf("Failed to create model: %v", err)
	}
	logf("info", "Vocabulary built with %d tokens", model.Vocab.Size())

	fmt.Println("\n=== MODEL INFORMATION ===")
	fmt.Printf("Network architecture: %s\n", model.Describe())
	fmt.Printf("Model configuration -> max_seq_len: %d, embedding_dim: %d, hidden_dim: %d\n",
		cfg.Model.MaxSeqLen, cfg.Model.EmbeddingDim, cfg.Model.HiddenDim)
	fmt.Printf("Total parameters: %d\n", model.TotalParameters())

	fmt.Println("\n=== BEFORE TRAINING ===")
	printPrediction(model, *testPrompt)

	trainer := &train.Trainer{
		Model:    model,
		Config:   cfg,
		Metrics:  metrics.New(cfg.Output.MetricsWindow),
		Progress: reportEpoch,
	}
	if trainer.Checkpoints, err = gobs.NewManager(cfg.Output.CheckpointDir, cfg.Output.KeepBest > 0, cfg.Output.KeepBest); err != nil {
		log.Fatalf("Failed to prepare checkpoints: %v", err)
	}
	if cfg.Output.HistoryDB != "" {
		db, err := sqlite_db.InitDB(cfg.Output.HistoryDB)
		if err != nil {
			log.Fatalf("Failed to open history database: %v", err)
		}
		defer db.Close()
		trainer.History = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := trainer.Run(ctx, dataset); err != nil {
		log.Printf("Training stopped: %v", err)
	}

	fmt.Println("\n=== AFTER TRAINING ===")
	printPrediction(model, *testPrompt)

	vocabPath := filepath.Join(cfg.Output.CheckpointDir, "vocab.gob")
	if err := model.Vocab.Save(vocabPath); err != nil {
		log.Fatalf("Failed to save vocabulary: %v", err)
	}
	final := gobs.NewCheckpoint(0, trainer.Metrics.AvgLoss(), "")
	if latest, ok := trainer.Metrics.LatestLoss(); ok {
		final.Loss = latest
	}
	final.Metadata.Phase = "final"
	final.Metadata.Config = train.ConfigJSON(model.Config)
	final.AddParameters(model.Parameters()...)
	finalPath := filepath.Join(cfg.Output.CheckpointDir, "final.gob")
	if err := final.Save(finalPath); err != nil {
		log.Fatalf("Failed to save final checkpoint: %v", err)
	}
	fmt.Printf("Model saved to %s (vocabulary %s)\n", finalPath, vocabPath)

	if cfg.Output.MetricsCSVPath != "" {
		csv, err := trainer.Metrics.ToCSV()
		if err == nil {
			err = os.WriteFile(cfg.Output.MetricsCSVPath, csv, 0o644)
		}
		if err != nil {
			log.Printf("Warning: failed to write metrics: %v", err)
		}
	}
}

func applyFlags(cfg *config.Config) {
	if *pretrainingData != "" {
		cfg.Data.PretrainingData = *pretrainingData
	}
	if *chatTrainingData != "" {
		cfg.Data.ChatTrainingData = *chatTrainingData
	}
	if *outputDir != "" {
		cfg.Output.CheckpointDir = *outputDir
	}
	if *historyDB != "" {
		cfg.Output.HistoryDB = *historyDB
	}
	if *logLevel != "" {
		cfg.Output.LogLevel = *logLevel
	}
	if *seed != 0 {
		cfg.Model.Seed = *seed
	}
}

func reportEpoch(phase string, r llm.EpochReport) {
	logf("info", "%s epoch %d/%d: loss %.4f, grad norm %.4f, skipped %d",
		phase, r.Epoch, r.Epochs, r.AvgLoss, r.GradNorm, r.Skipped)
}

func printPrediction(model *llm.LLM, prompt string) {
	fmt.Printf("Input: %s\n", prompt)
	out, err := model.Predict(prompt)
	if err != nil {
		fmt.Printf("Output: <%v>\n", err)
		return
	}
	fmt.Printf("Output: %s\n", out)
}
