package nn

import (
	"fmt"
	"math"

	"github.com/golangast/gpt/neural/tensor"
)

const embeddingStd = 0.02

// Embedding maps token IDs to learned vectors and adds a learned position vector
// to every row.
type Embedding struct {
	VocabSize         int
	DimModel          int
	MaxSequenceLength int
	Weight            *tensor.Tensor // [vocabSize, dimModel]
	Positions         *tensor.Tensor // [maxSequenceLength, dimModel]

	weightOpt   *Adam
	positionOpt *Adam

	// Stored values from forward pass for backward calculation
	inputTokenIDs []int
}

// NewEmbedding creates an Embedding layer with small random tables.
func NewEmbedding(vocabSize, dimModel, maxSequenceLength int, src *Init) *Embedding {
	return &Embedding{
		VocabSize:         vocabSize,
		DimModel:          dimModel,
		MaxSequenceLength: maxSequenceLength,
		Weight:            src.Normal(vocabSize, dimModel, embeddingStd),
		Positions:         src.Normal(maxSequenceLength, dimModel, embeddingStd),
		weightOpt:         NewAdam(vocabSize, dimModel),
		positionOpt:       NewAdam(maxSequenceLength, dimModel),
	}
}

// TokenTensor packs token IDs into the 1×N tensor Embedding.Forward consumes.
func TokenTensor(ids []int) *tensor.Tensor {
	t := tensor.New(1, len(ids))
	for i, id := range ids {
		t.Data[i] = float32(id)
	}
	return t
}

func (e *Embedding) Kind() string    { return "Embedding" }
func (e *Embedding) InputCols() int  { return 0 }
func (e *Embedding) OutputCols() int { return e.DimModel }

// Parameters returns all learnable parameters of the layer.
func (e *Embedding) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{e.Weight, e.Positions}
}

// Forward expects a 1×N tensor of token IDs (see TokenTensor).
func (e *Embedding) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input == nil || input.Rows != 1 {
		actual := "nil"
		if input != nil {
			actual = input.Shape()
		}
		return nil, shapeMismatch(e.Kind(), "(1, N) token ids", actual)
	}
	ids := make([]int, input.Cols)
	for i, v := range input.Data {
		if v != float32(math.Trunc(float64(v))) {
			return nil, fmt.Errorf("%s: non-integral token id %v: %w", e.Kind(), v, ErrToken)
		}
		ids[i] = int(v)
	}
	return e.ForwardIDs(ids)
}

// ForwardIDs embeds ids directly.
func (e *Embedding) ForwardIDs(ids []int) (*tensor.Tensor, error) {
	if len(ids) > e.MaxSequenceLength {
		return nil, shapeMismatch(e.Kind(), fmt.Sprintf("at most %d tokens", e.MaxSequenceLength), fmt.Sprintf("%d tokens", len(ids)))
	}
	out := tensor.New(len(ids), e.DimModel)
	for pos, id := range ids {
		// Validate the token ID is within the vocabulary range.
		if id < 0 || id >= e.VocabSize {
			return nil, fmt.Errorf("token ID %d is out of vocabulary range [0, %d): %w", id, e.VocabSize, ErrToken)
		}
		row := out.Row(pos)
		copy(row, e.Weight.Row(id))
		for d, p := range e.Positions.Row(pos) {
			row[d] += p
		}
	}
	e.inputTokenIDs = ids
	return out, nil
}

// Backward accumulates grad into the token and position tables and updates
// both. It returns a nil gradient because nothing precedes the embedding.
func (e *Embedding) Backward(grad *tensor.Tensor, lr float32) (*tensor.Tensor, error) {
	if e.inputTokenIDs == nil {
		return nil, fmt.Errorf("%s: %w", e.Kind(), ErrNoForward)
	}
	if grad == nil || grad.Rows != len(e.inputTokenIDs) || grad.Cols != e.DimModel {
		actual := "nil"
		if grad != nil {
			actual = grad.Shape()
		}
		return nil, shapeMismatch(e.Kind(), fmt.Sprintf("(%d, %d)", len(e.inputTokenIDs), e.DimModel), actual)
	}

	tokenGrad := accumulateTokenGrad(e.inputTokenIDs, grad, e.VocabSize)
	positionGrad := tensor.New(e.MaxSequenceLength, e.DimModel)
	copy(positionGrad.Data, grad.Data)

	if err := e.weightOpt.Step(e.Weight, tokenGrad, lr); err != nil {
		return nil, fmt.Errorf("%s tokens: %w", e.Kind(), err)
	}
	if err := e.positionOpt.Step(e.Positions, positionGrad, lr); err != nil {
		return nil, fmt.Errorf("%s positions: %w", e.Kind(), err)
	}
	return nil, nil
}

// accumulateTokenGrad scatters each gradient row onto the table row of its
// token; repeated tokens add up.
func accumulateTokenGrad(ids []int, grad *tensor.Tensor, vocabSize int) *tensor.Tensor {
	out := tensor.New(vocabSize, grad.Cols)
	for pos, id := range ids {
		dst := out.Row(id)
		for d, g := range grad.Row(pos) {
			dst[d] += g
		}
	}
	return out
}
