package nn

import (
	"fmt"

	"github.com/golangast/gpt/neural/tensor"
)

// Linear represents a linear layer (fully connected layer): y = xW + b.
// It is a building block of the pipeline layers rather than a pipeline layer itself.
type Linear struct {
	Weights *tensor.Tensor // [in, out]
	Biases  *tensor.Tensor // [1, out]

	wOpt  *Adam
	bOpt  *Adam
	input *tensor.Tensor // Store input for backward pass
	name  string
}

// NewLinear creates a Linear layer with He-initialized weights and zero biases.
func NewLinear(name string, inputDim, outputDim int, src *Init) *Linear {
	return &Linear{
		Weights: src.He(inputDim, outputDim),
		Biases:  tensor.New(1, outputDim),
		wOpt:    NewAdam(inputDim, outputDim),
		bOpt:    NewAdam(1, outputDim),
		name:    name,
	}
}

// Parameters returns all learnable parameters of the layer.
func (l *Linear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.Weights, l.Biases}
}

func (l *Linear) InputCols() int  { return l.Weights.Rows }
func (l *Linear) OutputCols() int { return l.Weights.Cols }

// Forward performs the forward pass of the Linear layer.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkCols(l.name, input, l.Weights.Rows); err != nil {
		return nil, err
	}
	out, err := tensor.MatMul(input, l.Weights)
	if err != nil {
		return nil, wrapShape(l.name, err)
	}
	if err := out.AddRowVector(l.Biases); err != nil {
		return nil, wrapShape(l.name, err)
	}
	l.input = input
	return out, nil
}

// Backward computes dLoss/dInput from grad, then applies the Adam updates
// for the weights and biases.
func (l *Linear) Backward(grad *tensor.Tensor, lr float32) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: %w", l.name, ErrNoForward)
	}
	if grad == nil || grad.Rows != l.input.Rows || grad.Cols != l.Weights.Cols {
		actual := "nil"
		if grad != nil {
			actual = grad.Shape()
		}
		return nil, shapeMismatch(l.name, fmt.Sprintf("(%d, %d)", l.input.Rows, l.Weights.Cols), actual)
	}

	// dLoss/dWeights = Input^T @ grad
	dWeights, err := tensor.MatMulTransA(l.input, grad)
	if err != nil {
		return nil, wrapShape(l.name, err)
	}
	dBiases := grad.SumRows()

	// dLoss/dInput = grad @ Weights^T, taken before the weights move
	dInput, err := tensor.MatMulTransB(grad, l.Weights)
	if err != nil {
		return nil, wrapShape(l.name, err)
	}

	if err := l.wOpt.Step(l.Weights, dWeights, lr); err != nil {
		return nil, fmt.Errorf("%s weights: %w", l.name, err)
	}
	if err := l.bOpt.Step(l.Biases, dBiases, lr); err != nil {
		return nil, fmt.Errorf("%s biases: %w", l.name, err)
	}
	return dInput, nil
}
