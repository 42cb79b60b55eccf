package nn

import (
	"fmt"

	"github.com/golangast/gpt/neural/tensor"
)

// FeedForward is the position-wise network W2·relu(W1·x + b1) + b2.
type FeedForward struct {
	In  *Linear // [dim, hidden]
	Out *Linear // [hidden, dim]

	// pre-activation of the hidden layer, kept for the relu mask
	hidden *tensor.Tensor
}

// NewFeedForward creates a new FeedForward layer.
func NewFeedForward(dimModel, hiddenDim int, src *Init) *FeedForward {
	return &FeedForward{
		In:  NewLinear("FeedForward in", dimModel, hiddenDim, src),
		Out: NewLinear("FeedForward out", hiddenDim, dimModel, src),
	}
}

func (f *FeedForward) Kind() string    { return "FeedForward" }
func (f *FeedForward) InputCols() int  { return f.In.InputCols() }
func (f *FeedForward) OutputCols() int { return f.Out.OutputCols() }

// Parameters returns W1, b1, W2, b2.
func (f *FeedForward) Parameters() []*tensor.Tensor {
	return append(f.In.Parameters(), f.Out.Parameters()...)
}

// Forward performs the forward pass of the FeedForward layer.
func (f *FeedForward) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	hidden, err := f.In.Forward(input)
	if err != nil {
		return nil, err
	}
	activated := hidden.Clone()
	for i, v := range activated.Data {
		if v < 0 {
			activated.Data[i] = 0
		}
	}
	out, err := f.Out.Forward(activated)
	if err != nil {
		return nil, err
	}
	f.hidden = hidden
	return out, nil
}

// Backward performs the backward pass for the FeedForward layer.
func (f *FeedForward) Backward(grad *tensor.Tensor, lr float32) (*tensor.Tensor, error) {
	if f.hidden == nil {
		return nil, fmt.Errorf("%s: %w", f.Kind(), ErrNoForward)
	}
	dActivated, err := f.Out.Backward(grad, lr)
	if err != nil {
		return nil, err
	}
	for i, v := range f.hidden.Data {
		if v <= 0 {
			dActivated.Data[i] = 0
		}
	}
	return f.In.Backward(dActivated, lr)
}
