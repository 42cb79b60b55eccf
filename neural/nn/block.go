package nn

import (
	"github.com/golangast/gpt/neural/tensor"
)

// TransformerBlock applies a normalized residual attention sublayer followed
// by a normalized residual feed-forward sublayer.
type TransformerBlock struct {
	Attention   *NormalizedResidual
	FeedForward *NormalizedResidual
}

// NewTransformerBlock builds one decoder block of width dimModel.
func NewTransformerBlock(dimModel, hiddenDim int, src *Init) *TransformerBlock {
	attn := &NormalizedResidual{Sublayer: NewSelfAttention(dimModel, src), Norm: NewLayerNorm(dimModel)}
	ff := &NormalizedResidual{Sublayer: NewFeedForward(dimModel, hiddenDim, src), Norm: NewLayerNorm(dimModel)}
	return &TransformerBlock{Attention: attn, FeedForward: ff}
}

func (b *TransformerBlock) Kind() string    { return "TransformerBlock" }
func (b *TransformerBlock) InputCols() int  { return b.Attention.InputCols() }
func (b *TransformerBlock) OutputCols() int { return b.FeedForward.OutputCols() }

// Parameters lists the attention parameters, then the feed-forward ones.
func (b *TransformerBlock) Parameters() []*tensor.Tensor {
	return append(b.Attention.Parameters(), b.FeedForward.Parameters()...)
}

// SelfAttention returns the block's attention sublayer.
func (b *TransformerBlock) SelfAttention() *SelfAttention {
	return b.Attention.Sublayer.(*SelfAttention)
}

func (b *TransformerBlock) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := b.Attention.Forward(input)
	if err != nil {
		return nil, err
	}
	return b.FeedForward.Forward(h)
}

func (b *TransformerBlock) Backward(grad *tensor.Tensor, lr float32) (*tensor.Tensor, error) {
	g, err := b.FeedForward.Backward(grad, lr)
	if err != nil {
		return nil, err
	}
	return b.Attention.Backward(g, lr)
}
