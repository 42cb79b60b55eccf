package nn

import (
	"fmt"

	"github.com/golangast/gpt/neural/tensor"
)

// NormalizedResidual wraps a width-preserving sublayer as LayerNorm(x + sublayer(x)).
type NormalizedResidual struct {
	Sublayer Layer
	Norm     *LayerNorm
}

// NewNormalizedResidual wraps sub. The sublayer must map d columns to d columns.
func NewNormalizedResidual(sub Layer) (*NormalizedResidual, error) {
	if sub.InputCols() != sub.OutputCols() || sub.InputCols() <= 0 {
		return nil, fmt.Errorf("residual around %s needs equal positive widths, got %d -> %d: %w",
			sub.Kind(), sub.InputCols(), sub.OutputCols(), ErrArchitecture)
	}
	return &NormalizedResidual{Sublayer: sub, Norm: NewLayerNorm(sub.OutputCols())}, nil
}

func (r *NormalizedResidual) Kind() string    { return "Residual(" + r.Sublayer.Kind() + ")" }
func (r *NormalizedResidual) InputCols() int  { return r.Sublayer.InputCols() }
func (r *NormalizedResidual) OutputCols() int { return r.Norm.OutputCols() }

func (r *NormalizedResidual) Parameters() []*tensor.Tensor {
	return append(r.Sublayer.Parameters(), r.Norm.Parameters()...)
}

func (r *NormalizedResidual) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	sub, err := r.Sublayer.Forward(input)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Add(input, sub)
	if err != nil {
		return nil, wrapShape(r.Kind(), err)
	}
	return r.Norm.Forward(sum)
}

// Backward sends the normalized gradient down both the skip path and the sublayer.
func (r *NormalizedResidual) Backward(grad *tensor.Tensor, lr float32) (*tensor.Tensor, error) {
	dSum, err := r.Norm.Backward(grad, lr)
	if err != nil {
		return nil, err
	}
	dSub, err := r.Sublayer.Backward(dSum, lr)
	if err != nil {
		return nil, err
	}
	if err := dSub.AddInPlace(dSum); err != nil {
		return nil, wrapShape(r.Kind(), err)
	}
	return dSub, nil
}
