// Package metrics keeps rolling windows of training statistics.
package metrics

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

const trendSpan = 5

// Metrics records loss, accuracy, gradient norm and learning rate, keeping at
// most WindowSize values of each.
type Metrics struct {
	Losses        []float64 `json:"losses"`
	Accuracies    []float64 `json:"accuracies"`
	GradientNorms []float64 `json:"gradient_norms"`
	LearningRates []float64 `json:"learning_rates"`
	WindowSize    int       `json:"window_size"`
}

// New returns an empty tracker. A non-positive size falls back to 100.
func New(windowSize int) *Metrics {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Metrics{WindowSize: windowSize}
}

func (m *Metrics) push(window []float64, v float32) []float64 {
	window = append(window, float64(v))
	if len(window) > m.WindowSize {
		window = window[len(window)-m.WindowSize:]
	}
	return window
}

func (m *Metrics) RecordLoss(v float32)         { m.Losses = m.push(m.Losses, v) }
func (m *Metrics) RecordAccuracy(v float32)     { m.Accuracies = m.push(m.Accuracies, v) }
func (m *Metrics) RecordGradientNorm(v float32) { m.GradientNorms = m.push(m.GradientNorms, v) }
func (m *Metrics) RecordLearningRate(v float32) { m.LearningRates = m.push(m.LearningRates, v) }

func mean(window []float64) float32 {
	if len(window) == 0 {
		return 0
	}
	return float32(floats.Sum(window) / float64(len(window)))
}

func (m *Metrics) AvgLoss() float32         { return mean(m.Losses) }
func (m *Metrics) AvgAccuracy() float32     { return mean(m.Accuracies) }
func (m *Metrics) AvgGradientNorm() float32 { return mean(m.GradientNorms) }

// MinLoss returns the lowest loss in the window.
func (m *Metrics) MinLoss() (float32, bool) {
	if len(m.Losses) == 0 {
		return 0, false
	}
	return float32(floats.Min(m.Losses)), true
}

// LatestLoss returns the most recent loss.
func (m *Metrics) LatestLoss() (float32, bool) {
	if len(m.Losses) == 0 {
		return 0, false
	}
	return float32(m.Losses[len(m.Losses)-1]), true
}

// LossTrend compares the newest losses against the oldest ones. increasing is
// only meaningful when ok is true, which needs at least two losses.
func (m *Metrics) LossTrend() (increasing, ok bool) {
	n := len(m.Losses)
	if n < 2 {
		return false, false
	}
	span := trendSpan
	if n < span {
		span = n
	}
	recent := floats.Sum(m.Losses[n-span:]) / float64(span)
	old := floats.Sum(m.Losses[:span]) / float64(span)
	return recent > old, true
}

// Clear drops every recorded value.
func (m *Metrics) Clear() {
	m.Losses, m.Accuracies, m.GradientNorms, m.LearningRates = nil, nil, nil, nil
}

// ToJSON exports the windows as indented JSON.
func (m *Metrics) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ToCSV exports one row per step. Missing values are left empty.
func (m *Metrics) ToCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"step", "loss", "accuracy", "gradient_norm", "learning_rate"}); err != nil {
		return nil, err
	}
	rows := len(m.Losses)
	for _, s := range [][]float64{m.Accuracies, m.GradientNorms, m.LearningRates} {
		if len(s) > rows {
			rows = len(s)
		}
	}
	cell := func(s []float64, i int) string {
		if i >= len(s) {
			return ""
		}
		return strconv.FormatFloat(s[i], 'g', -1, 32)
	}
	for i := 0; i < rows; i++ {
		record := []string{
			strconv.Itoa(i),
			cell(m.Losses, i),
			cell(m.Accuracies, i),
			cell(m.GradientNorms, i),
			cell(m.LearningRates, i),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
