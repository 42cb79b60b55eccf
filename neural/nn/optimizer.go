package nn

import (
	"math"

	"github.com/golangast/gpt/neural/tensor"
)

// Adam holds the moment estimates of a single parameter.
type Adam struct {
	M       *tensor.Tensor // 1st moment vector
	V       *tensor.Tensor // 2nd moment vector
	T       int
	Beta1   float32
	Beta2   float32
	Epsilon float32
}

// NewAdam creates zeroed moment state for a rows×cols parameter.
func NewAdam(rows, cols int) *Adam {
	return &Adam{
		M:       tensor.New(rows, cols),
		V:       tensor.New(rows, cols),
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
	}
}

// Step applies one bias-corrected Adam update of grad to param.
func (o *Adam) Step(param, grad *tensor.Tensor, lr float32) error {
	if !param.SameShape(o.M) {
		return shapeMismatch("adam", o.M.Shape(), param.Shape())
	}
	if !grad.SameShape(param) {
		return shapeMismatch("adam", param.Shape(), grad.Shape())
	}

	o.T++
	b1, b2 := float64(o.Beta1), float64(o.Beta2)
	bc1 := 1 - math.Pow(b1, float64(o.T))
	bc2 := 1 - math.Pow(b2, float64(o.T))

	for i, g := range grad.Data {
		m := o.Beta1*o.M.Data[i] + (1-o.Beta1)*g
		v := o.Beta2*o.V.Data[i] + (1-o.Beta2)*g*g
		o.M.Data[i] = m
		o.V.Data[i] = v

		mHat := float64(m) / bc1
		vHat := float64(v) / bc2
		param.Data[i] -= float32(float64(lr) * mHat / (math.Sqrt(vHat) + float64(o.Epsilon)))
	}
	return nil
}
