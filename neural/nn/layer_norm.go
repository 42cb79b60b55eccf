package nn

import (
	"fmt"
	"math"

	"github.com/golangast/gpt/neural/tensor"
)

// LayerNorm represents a layer normalization module over the feature axis.
type LayerNorm struct {
	NormalizedShape int
	Gamma           *tensor.Tensor // Learnable scale parameter, [1, d]
	Beta            *tensor.Tensor // Learnable shift parameter, [1, d]
	Eps             float64

	gammaOpt, betaOpt *Adam

	// Stored for backward pass
	normalized *tensor.Tensor
	invStd     []float64
}

// NewLayerNorm creates a new LayerNorm module with gamma ones and beta zeros.
func NewLayerNorm(normalizedShape int) *LayerNorm {
	return &LayerNorm{
		NormalizedShape: normalizedShape,
		Gamma:           Fill(1, normalizedShape, 1),
		Beta:            tensor.New(1, normalizedShape),
		Eps:             1e-5,
		gammaOpt:        NewAdam(1, normalizedShape),
		betaOpt:         NewAdam(1, normalizedShape),
	}
}

func (ln *LayerNorm) Kind() string    { return "LayerNorm" }
func (ln *LayerNorm) InputCols() int  { return ln.NormalizedShape }
func (ln *LayerNorm) OutputCols() int { return ln.NormalizedShape }

func (ln *LayerNorm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{ln.Gamma, ln.Beta}
}

// Forward normalizes each row to zero mean and unit variance, then applies gamma and beta.
// Input shape: [seqLen, normalizedShape]
func (ln *LayerNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkCols(ln.Kind(), input, ln.NormalizedShape); err != nil {
		return nil, err
	}
	n := float64(ln.NormalizedShape)
	normalized := tensor.New(input.Rows, input.Cols)
	out := tensor.New(input.Rows, input.Cols)
	invStd := make([]float64, input.Rows)

	for i := 0; i < input.Rows; i++ {
		row := input.Row(i)
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= n
		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= n
		invStd[i] = 1 / math.Sqrt(variance+ln.Eps)

		xhat := normalized.Row(i)
		o := out.Row(i)
		for j, v := range row {
			xhat[j] = float32((float64(v) - mean) * invStd[i])
			o[j] = ln.Gamma.Data[j]*xhat[j] + ln.Beta.Data[j]
		}
	}

	ln.normalized = normalized
	ln.invStd = invStd
	return out, nil
}

// Backward returns dLoss/dInput and updates gamma and beta.
func (ln *LayerNorm) Backward(grad *tensor.Tensor, lr float32) (*tensor.Tensor, error) {
	if ln.normalized == nil {
		return nil, fmt.Errorf("%s: %w", ln.Kind(), ErrNoForward)
	}
	if err := checkSameShape(ln.Kind(), grad, ln.normalized); err != nil {
		return nil, err
	}
	n := float64(ln.NormalizedShape)
	dGamma := tensor.New(1, ln.NormalizedShape)
	dBeta := tensor.New(1, ln.NormalizedShape)
	dInput := tensor.New(grad.Rows, grad.Cols)

	for i := 0; i < grad.Rows; i++ {
		g := grad.Row(i)
		xhat := ln.normalized.Row(i)

		var sumG, sumGX float64
		for j := range g {
			dGamma.Data[j] += g[j] * xhat[j]
			dBeta.Data[j] += g[j]
			gg := float64(g[j] * ln.Gamma.Data[j])
			sumG += gg
			sumGX += gg * float64(xhat[j])
		}
		dx := dInput.Row(i)
		for j := range g {
			gg := float64(g[j] * ln.Gamma.Data[j])
			dx[j] = float32(ln.invStd[i] / n * (n*gg - sumG - float64(xhat[j])*sumGX))
		}
	}

	if err := ln.gammaOpt.Step(ln.Gamma, dGamma, lr); err != nil {
		return nil, fmt.Errorf("%s gamma: %w", ln.Kind(), err)
	}
	if err := ln.betaOpt.Step(ln.Beta, dBeta, lr); err != nil {
		return nil, fmt.Errorf("%s beta: %w", ln.Kind(), err)
	}
	return dInput, nil
}
