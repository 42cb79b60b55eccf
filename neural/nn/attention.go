package nn

import (
	"fmt"
	"math"

	"github.com/golangast/gpt/neural/tensor"
)

// SelfAttention is single-head causal self-attention. The head dimension
// equals the model dimension.
type SelfAttention struct {
	DimModel int
	Wq       *tensor.Tensor // [dimModel, dimModel]
	Wk       *tensor.Tensor
	Wv       *tensor.Tensor
	Output   *Linear

	qOpt, kOpt, vOpt *Adam

	// cache for backprop
	input   *tensor.Tensor
	q, k, v *tensor.Tensor
	weights *tensor.Tensor // softmax(mask(QKᵀ/√d))
}

// NewSelfAttention creates the query/key/value projections and the output projection.
func NewSelfAttention(dimModel int, src *Init) *SelfAttention {
	return &SelfAttention{
		DimModel: dimModel,
		Wq:       src.He(dimModel, dimModel),
		Wk:       src.He(dimModel, dimModel),
		Wv:       src.He(dimModel, dimModel),
		Output:   NewLinear("SelfAttention output", dimModel, dimModel, src),
		qOpt:     NewAdam(dimModel, dimModel),
		kOpt:     NewAdam(dimModel, dimModel),
		vOpt:     NewAdam(dimModel, dimModel),
	}
}

func (a *SelfAttention) Kind() string    { return "SelfAttention" }
func (a *SelfAttention) InputCols() int  { return a.DimModel }
func (a *SelfAttention) OutputCols() int { return a.DimModel }

// Parameters returns Wq, Wk, Wv followed by the output projection's weights and biases.
func (a *SelfAttention) Parameters() []*tensor.Tensor {
	return append([]*tensor.Tensor{a.Wq, a.Wk, a.Wv}, a.Output.Parameters()...)
}

// AttentionWeights returns the attention matrix of the last forward pass.
func (a *SelfAttention) AttentionWeights() *tensor.Tensor {
	return a.weights
}

func (a *SelfAttention) scale() float32 {
	return float32(1 / math.Sqrt(float64(a.DimModel)))
}

// Forward computes softmax(mask(QKᵀ/√d))·V and projects it back to the model dimension.
func (a *SelfAttention) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkCols(a.Kind(), input, a.DimModel); err != nil {
		return nil, err
	}
	q, err := tensor.MatMul(input, a.Wq)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}
	k, err := tensor.MatMul(input, a.Wk)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}
	v, err := tensor.MatMul(input, a.Wv)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}

	scores, err := tensor.MatMulTransB(q, k)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}
	scores.Scale(a.scale())
	applyCausalMask(scores)
	weights := tensor.SoftmaxRows(scores)

	context, err := tensor.MatMul(weights, v)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}
	out, err := a.Output.Forward(context)
	if err != nil {
		return nil, err
	}

	a.input, a.q, a.k, a.v, a.weights = input, q, k, v, weights
	return out, nil
}

// applyCausalMask sets every score of a key after its query to -Inf.
func applyCausalMask(scores *tensor.Tensor) {
	negInf := float32(math.Inf(-1))
	for i := 0; i < scores.Rows; i++ {
		row := scores.Row(i)
		for j := i + 1; j < scores.Cols; j++ {
			row[j] = negInf
		}
	}
}

// Backward propagates through the output projection, the weighted sum, the
// masked softmax and the three input projections.
func (a *SelfAttention) Backward(grad *tensor.Tensor, lr float32) (*tensor.Tensor, error) {
	if a.input == nil {
		return nil, fmt.Errorf("%s: %w", a.Kind(), ErrNoForward)
	}
	if err := checkSameShape(a.Kind(), grad, a.input); err != nil {
		return nil, err
	}

	dContext, err := a.Output.Backward(grad, lr)
	if err != nil {
		return nil, err
	}

	dWeights, err := tensor.MatMulTransB(dContext, a.v)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}
	dV, err := tensor.MatMulTransA(a.weights, dContext)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}

	dScores := softmaxBackward(a.weights, dWeights)
	dScores.Scale(a.scale())

	dQ, err := tensor.MatMul(dScores, a.k)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}
	dK, err := tensor.MatMulTransA(dScores, a.q)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}

	dInput, err := a.inputGrad(dQ, dK, dV)
	if err != nil {
		return nil, err
	}

	updates := []struct {
		param *tensor.Tensor
		opt   *Adam
		delta *tensor.Tensor
	}{
		{a.Wq, a.qOpt, dQ},
		{a.Wk, a.kOpt, dK},
		{a.Wv, a.vOpt, dV},
	}
	for _, u := range updates {
		dW, err := tensor.MatMulTransA(a.input, u.delta)
		if err != nil {
			return nil, wrapShape(a.Kind(), err)
		}
		if err := u.opt.Step(u.param, dW, lr); err != nil {
			return nil, fmt.Errorf("%s: %w", a.Kind(), err)
		}
	}
	return dInput, nil
}

// inputGrad sums the three projection paths: dQ·Wqᵀ + dK·Wkᵀ + dV·Wvᵀ.
func (a *SelfAttention) inputGrad(dQ, dK, dV *tensor.Tensor) (*tensor.Tensor, error) {
	dInput, err := tensor.MatMulTransB(dQ, a.Wq)
	if err != nil {
		return nil, wrapShape(a.Kind(), err)
	}
	for _, p := range []struct{ d, w *tensor.Tensor }{{dK, a.Wk}, {dV, a.Wv}} {
		part, err := tensor.MatMulTransB(p.d, p.w)
		if err != nil {
			return nil, wrapShape(a.Kind(), err)
		}
		if err := dInput.AddInPlace(part); err != nil {
			return nil, wrapShape(a.Kind(), err)
		}
	}
	return dInput, nil
}

// softmaxBackward applies the row-wise softmax Jacobian:
// dS = A ⊙ (dA − rowsum(dA ⊙ A)). Masked entries have A = 0 and get no gradient.
func softmaxBackward(weights, dWeights *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(weights.Rows, weights.Cols)
	for i := 0; i < weights.Rows; i++ {
		w := weights.Row(i)
		dw := dWeights.Row(i)
		var dot float32
		for j := range w {
			dot += w[j] * dw[j]
		}
		row := out.Row(i)
		for j := range w {
			row[j] = w[j] * (dw[j] - dot)
		}
	}
	return out
}
