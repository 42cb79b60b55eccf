package train

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/golangast/gpt/internal/sqlite_db"
	"github.com/golangast/gpt/neural/llm"
	"github.com/golangast/gpt/neural/nn"
	"github.com/golangast/gpt/neural/nnu/config"
	"github.com/golangast/gpt/neural/nnu/gobs"
	"github.com/golangast/gpt/neural/nnu/metrics"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	pre := writeFile(t, dir, "pre.json", `["the sun is hot </s>", "water is wet </s>"]`)
	chat := writeFile(t, dir, "chat.json", `["User: hi Assistant: hello </s>"]`)
	d, err := LoadDataset(pre, chat, "json")
	if err != nil {
		t.Fatal(err)
	}
	if d.TotalSamples() != 3 || d.Chat[0] != "User: hi Assistant: hello </s>" {
		t.Fatalf("dataset %+v", d)
	}
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}

	preCSV := writeFile(t, dir, "pre.csv", "a b,c\n\"d, e\"\n")
	chatCSV := writeFile(t, dir, "chat.csv", "")
	d, err = LoadDataset(preCSV, chatCSV, "csv")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(d.Pretraining, []string{"a b,c", "d, e"}) || len(d.Chat) != 0 {
		t.Fatalf("csv dataset %+v", d)
	}
}

func TestLoadDatasetErrors(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.json", `[]`)
	broken := writeFile(t, dir, "broken.json", `{"not": "a list"}`)
	tests := []struct {
		name      string
		pre, chat string
		format    string
	}{
		{"both empty", empty, empty, "json"},
		{"malformed", broken, empty, "json"},
		{"missing file", filepath.Join(dir, "nope.json"), empty, "json"},
		{"unknown format", empty, empty, "parquet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadDataset(tt.pre, tt.chat, tt.format); !errors.Is(err, nn.ErrDataLoad) {
				t.Fatalf("got %v, want ErrDataLoad", err)
			}
		})
	}
	if err := (&Dataset{}).Validate(); !errors.Is(err, nn.ErrDataLoad) {
		t.Fatalf("empty Validate: %v", err)
	}
}

func smallConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.Model = config.Model{EmbeddingDim: 8, HiddenDim: 16, MaxSeqLen: 16, NumBlocks: 1, MaxGenerateLen: 4, Seed: 3}
	cfg.Training.PretrainingEpochs = 3
	cfg.Training.FinetuningEpochs = 2
	cfg.Training.PretrainingLR = 0.01
	cfg.Training.FinetuningLR = 0.005
	cfg.Training.CheckpointInterval = 2
	cfg.Output.CheckpointDir = filepath.Join(dir, "checkpoints")
	return cfg
}

func TestTrainerRun(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(dir)
	d := &Dataset{
		Pretraining: []string{"the sun is hot </s>", "water is wet </s>"},
		Chat:        []string{"User: is water wet ? Assistant: water is wet </s>"},
	}
	model, err := NewModel(cfg, d)
	if err != nil {
		t.Fatal(err)
	}
	manager, err := gobs.NewManager(cfg.Output.CheckpointDir, true, 5)
	if err != nil {
		t.Fatal(err)
	}
	db, err := sqlite_db.InitDB(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var phases []string
	tr := &Trainer{
		Model:       model,
		Config:      cfg,
		Metrics:     metrics.New(10),
		Checkpoints: manager,
		History:     db,
		Progress:    func(phase string, _ llm.EpochReport) { phases = append(phases, phase) },
	}
	if err := tr.Run(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	want := []string{PhasePretraining, PhasePretraining, PhasePretraining, PhaseInstructionTuning, PhaseInstructionTuning}
	if !reflect.DeepEqual(phases, want) {
		t.Fatalf("progress phases %v", phases)
	}
	if len(tr.Metrics.Losses) != 5 {
		t.Fatalf("metrics recorded %d losses", len(tr.Metrics.Losses))
	}

	entries, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("checkpoints %+v", entries)
	}

	runs, err := sqlite_db.GetRuns(db)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs %+v", runs)
	}
	losses, err := sqlite_db.EpochLosses(db, runs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(losses) != 3 {
		t.Fatalf("pretraining history %v", losses)
	}

	path, err := tr.SaveCheckpoint(PhaseInstructionTuning, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := gobs.LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := ModelFromCheckpoint(c, model.Vocab)
	if err != nil {
		t.Fatal(err)
	}
	ids := model.Vocab.Tokenize("the sun is")
	a, _ := model.Forward(ids)
	b, _ := restored.Forward(ids)
	if !reflect.DeepEqual(a.Data, b.Data) {
		t.Fatal("restored model disagrees with the trained one")
	}
}
