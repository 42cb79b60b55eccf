// Package llm ties the layer pipeline together: forward passes, training
// with update-on-backward layers, and greedy generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/golangast/gpt/neural/nn"
	"github.com/golangast/gpt/neural/nnu/vocab"
	"github.com/golangast/gpt/neural/tensor"
)

// LLM is a decoder-only language model. It is not safe for concurrent use:
// layers cache activations between Forward and Backward.
type LLM struct {
	Vocab   *vocab.Vocab
	Network []nn.Layer
	Config  Config
}

// New builds Embedding, Config.NumBlocks transformer blocks and the output
// projection, all initialised from Config.Seed.
func New(cfg Config, v *vocab.Vocab) (*LLM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if v == nil || v.Size() == 0 {
		return nil, fmt.Errorf("vocabulary is empty: %w", nn.ErrArchitecture)
	}
	src := nn.NewInit(cfg.Seed)
	layers := []nn.Layer{nn.NewEmbedding(v.Size(), cfg.EmbeddingDim, cfg.MaxSeqLen, src)}
	for i := 0; i < cfg.NumBlocks; i++ {
		layers = append(layers, nn.NewTransformerBlock(cfg.EmbeddingDim, cfg.HiddenDim, src))
	}
	layers = append(layers, nn.NewOutputProjection(cfg.EmbeddingDim, v.Size(), src))
	return NewWithLayers(cfg, v, layers)
}

// NewWithLayers wraps an explicit pipeline after checking that every adjacent
// pair of layers agrees on width and that the last layer emits one logit per word.
func NewWithLayers(cfg Config, v *vocab.Vocab, layers []nn.Layer) (*LLM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if v == nil || v.Size() == 0 {
		return nil, fmt.Errorf("vocabulary is empty: %w", nn.ErrArchitecture)
	}
	if len(layers) < 2 {
		return nil, fmt.Errorf("network needs at least an input and an output layer, got %d: %w", len(layers), nn.ErrArchitecture)
	}
	if layers[0].InputCols() != 0 {
		return nil, fmt.Errorf("first layer %s does not consume token ids: %w", layers[0].Kind(), nn.ErrArchitecture)
	}
	for i := 1; i < len(layers); i++ {
		prev, cur := layers[i-1], layers[i]
		if prev.OutputCols() != cur.InputCols() {
			return nil, fmt.Errorf("%s emits %d columns but %s expects %d: %w",
				prev.Kind(), prev.OutputCols(), cur.Kind(), cur.InputCols(), nn.ErrArchitecture)
		}
	}
	if last := layers[len(layers)-1]; last.OutputCols() != v.Size() {
		return nil, fmt.Errorf("%s emits %d logits for a vocabulary of %d: %w",
			last.Kind(), last.OutputCols(), v.Size(), nn.ErrArchitecture)
	}
	return &LLM{Vocab: v, Network: layers, Config: cfg}, nil
}

// Describe lists the layer kinds in pipeline order.
func (m *LLM) Describe() string {
	kinds := make([]string, len(m.Network))
	for i, l := range m.Network {
		kinds[i] = l.Kind()
	}
	return strings.Join(kinds, ", ")
}

// TotalParameters counts every learnable value in the network.
func (m *LLM) TotalParameters() int {
	return nn.CountParameters(m.parameterTensors())
}

func (m *LLM) parameterTensors() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, l := range m.Network {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Parameters returns flat copies of every parameter tensor in pipeline order.
func (m *LLM) Parameters() [][]float32 {
	tensors := m.parameterTensors()
	out := make([][]float32, len(tensors))
	for i, t := range tensors {
		out[i] = append([]float32(nil), t.Data...)
	}
	return out
}

// LoadParameters overwrites the network's parameters with values produced by Parameters.
// Nothing is written unless every slice matches.
func (m *LLM) LoadParameters(params [][]float32) error {
	tensors := m.parameterTensors()
	if len(params) != len(tensors) {
		return &nn.ShapeMismatchError{
			Layer:    "LLM",
			Expected: fmt.Sprintf("%d parameter tensors", len(tensors)),
			Actual:   fmt.Sprintf("%d", len(params)),
		}
	}
	for i, t := range tensors {
		if len(params[i]) != len(t.Data) {
			return &nn.ShapeMismatchError{
				Layer:    fmt.Sprintf("LLM parameter %d", i),
				Expected: fmt.Sprintf("%d values %s", len(t.Data), t.Shape()),
				Actual:   fmt.Sprintf("%d values", len(params[i])),
			}
		}
	}
	for i, t := range tensors {
		copy(t.Data, params[i])
	}
	return nil
}

// Forward runs ids through every layer and returns logits of shape len(ids)×vocab.
func (m *LLM) Forward(ids []int) (*tensor.Tensor, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty token sequence: %w", nn.ErrTraining)
	}
	x := nn.TokenTensor(ids)
	for _, l := range m.Network {
		var err error
		if x, err = l.Forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (m *LLM) backward(grad *tensor.Tensor, lr float32) error {
	for i := len(m.Network) - 1; i >= 0; i-- {
		var err error
		if grad, err = m.Network[i].Backward(grad, lr); err != nil {
			return err
		}
	}
	return nil
}

// TrainStep performs next-token training on one tokenized example and returns the
// loss and the gradient norm measured before clipping. Sequences longer than the
// context window are truncated to MaxSeqLen inputs.
func (m *LLM) TrainStep(ids []int, lr float32) (loss, gradNorm float32, err error) {
	if len(ids) > m.Config.MaxSeqLen+1 {
		ids = ids[:m.Config.MaxSeqLen+1]
	}
	if len(ids) < 2 {
		return 0, 0, fmt.Errorf("example has %d tokens, need at least 2: %w", len(ids), nn.ErrTraining)
	}
	inputs, targets := ids[:len(ids)-1], ids[1:]

	logits, err := m.Forward(inputs)
	if err != nil {
		return 0, 0, err
	}
	probs := nn.Softmax(logits)
	loss, err = nn.CrossEntropy(probs, targets)
	if err != nil {
		return 0, 0, err
	}
	if math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) {
		return 0, 0, fmt.Errorf("loss is %v: %w", loss, nn.ErrTraining)
	}

	grad, err := nn.SeedGradient(probs, targets)
	if err != nil {
		return 0, 0, err
	}
	gradNorm = nn.ClipGradNorm(grad, m.Config.GradientClip)
	if err := m.backward(grad, lr); err != nil {
		return 0, 0, err
	}
	return loss, gradNorm, nil
}

// EpochReport describes one finished epoch.
type EpochReport struct {
	Epoch    int // 1-based
	Epochs   int
	AvgLoss  float32
	GradNorm float32 // mean pre-clip norm of the seed gradients
	Trained  int
	Skipped  int
}

// Observer receives a report after every epoch.
type Observer func(EpochReport)

// Train runs epochs passes over examples and returns the average loss of each epoch.
func (m *LLM) Train(examples []string, epochs int, lr float32) ([]float32, error) {
	return m.TrainWithObserver(context.Background(), examples, epochs, lr, nil)
}

// TrainWithObserver is Train with cancellation and per-epoch reporting.
// Examples failing with nn.ErrToken or nn.ErrTraining are logged and skipped;
// any other error ends the run. ctx is checked between examples.
func (m *LLM) TrainWithObserver(ctx context.Context, examples []string, epochs int, lr float32, observe Observer) ([]float32, error) {
	if epochs < 0 {
		return nil, fmt.Errorf("epochs must not be negative, got %d: %w", epochs, nn.ErrTraining)
	}
	tokenized := make([][]int, len(examples))
	for i, ex := range examples {
		tokenized[i] = m.Vocab.Tokenize(ex)
	}

	losses := make([]float32, 0, epochs)
	for epoch := 1; epoch <= epochs; epoch++ {
		var totalLoss, totalNorm float64
		report := EpochReport{Epoch: epoch, Epochs: epochs}

		for i, ids := range tokenized {
			if err := ctx.Err(); err != nil {
				return losses, err
			}
			loss, norm, err := m.TrainStep(ids, lr)
			if err != nil {
				if errors.Is(err, nn.ErrToken) || errors.Is(err, nn.ErrTraining) {
					log.Printf("epoch %d: skipping example %d: %v", epoch, i, err)
					report.Skipped++
					continue
				}
				return losses, fmt.Errorf("epoch %d, example %d: %w", epoch, i, err)
			}
			totalLoss += float64(loss)
			totalNorm += float64(norm)
			report.Trained++
		}

		if report.Trained == 0 {
			return losses, fmt.Errorf("epoch %d: none of %d examples could be trained: %w", epoch, len(examples), nn.ErrTraining)
		}
		report.AvgLoss = float32(totalLoss / float64(report.Trained))
		report.GradNorm = float32(totalNorm / float64(report.Trained))
		losses = append(losses, report.AvgLoss)
		if observe != nil {
			observe(report)
		}
	}
	return losses, nil
}

// Generate greedily extends ids and returns only the new tokens. It stops at
// the end-of-sequence token, after MaxGenerateLen tokens or when the sequence
// fills the context window.
func (m *LLM) Generate(ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty prompt: %w", nn.ErrTraining)
	}
	budget := m.Config.MaxSeqLen - len(ids)
	if m.Config.MaxGenerateLen > 0 && m.Config.MaxGenerateLen < budget {
		budget = m.Config.MaxGenerateLen
	}
	eos, hasEOS := m.Vocab.EOSID()

	seq := append([]int(nil), ids...)
	var generated []int
	for i := 0; i < budget; i++ {
		logits, err := m.Forward(seq)
		if err != nil {
			return generated, err
		}
		next := tensor.ArgMax(logits.Row(logits.Rows - 1))
		if hasEOS && next == eos {
			break
		}
		seq = append(seq, next)
		generated = append(generated, next)
	}
	return generated, nil
}

// Predict tokenizes prompt, generates a continuation and decodes it to
// space-separated words.
func (m *LLM) Predict(prompt string) (string, error) {
	ids := m.Vocab.Tokenize(prompt)
	if len(ids) == 0 {
		return "", fmt.Errorf("prompt %q has no known tokens: %w", prompt, nn.ErrToken)
	}
	generated, err := m.Generate(ids)
	if err != nil {
		return "", err
	}
	words := make([]string, 0, len(generated))
	for _, id := range generated {
		w, err := m.Vocab.DecodeOrError(id)
		if err != nil {
			return "", err
		}
		words = append(words, w)
	}
	return strings.Join(words, " "), nil
}
