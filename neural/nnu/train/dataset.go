package train

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/golangast/gpt/neural/nn"
)

// Dataset holds the two training corpora: plain statements for pre-training
// and conversational examples for instruction tuning.
type Dataset struct {
	Pretraining []string `json:"pretraining"`
	Chat        []string `json:"chat"`
}

// LoadDataset reads both corpora in format "json" or "csv".
func LoadDataset(pretrainingPath, chatPath, format string) (*Dataset, error) {
	var load func(string) ([]string, error)
	switch format {
	case "json":
		load = LoadJSON
	case "csv":
		load = LoadCSV
	default:
		return nil, fmt.Errorf("unsupported data format %q: %w", format, nn.ErrDataLoad)
	}

	pre, err := load(pretrainingPath)
	if err != nil {
		return nil, err
	}
	chat, err := load(chatPath)
	if err != nil {
		return nil, err
	}
	d := &Dataset{Pretraining: pre, Chat: chat}
	if d.TotalSamples() == 0 {
		return nil, fmt.Errorf("both datasets are empty: %w", nn.ErrDataLoad)
	}
	log.Printf("Dataset loaded: %d pre-training samples, %d chat samples", len(pre), len(chat))
	return d, nil
}

// LoadJSON reads a JSON array of strings.
func LoadJSON(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %v: %w", err, nn.ErrDataLoad)
	}
	var data []string
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON %s: %v: %w", path, err, nn.ErrDataLoad)
	}
	return data, nil
}

// LoadCSV reads a header-less CSV file; each record becomes one sample with
// its fields joined by commas.
func LoadCSV(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %v: %w", err, nn.ErrDataLoad)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	var data []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %v: %w", err, nn.ErrDataLoad)
		}
		data = append(data, strings.Join(record, ","))
	}
	return data, nil
}

// TotalSamples counts both corpora.
func (d *Dataset) TotalSamples() int {
	return len(d.Pretraining) + len(d.Chat)
}

// Validate fails on an empty dataset and warns about blank samples.
func (d *Dataset) Validate() error {
	if d.TotalSamples() == 0 {
		return fmt.Errorf("dataset contains no samples: %w", nn.ErrDataLoad)
	}
	blank := 0
	for _, s := range append(append([]string(nil), d.Pretraining...), d.Chat...) {
		if strings.TrimSpace(s) == "" {
			blank++
		}
	}
	if blank > 0 {
		log.Printf("Warning: dataset contains %d empty strings", blank)
	}
	return nil
}
