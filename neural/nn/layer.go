package nn

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/golangast/gpt/neural/tensor"
)

// Layer is one stage of the model pipeline.
//
// Forward caches whatever Backward needs. Backward receives dLoss/dOutput,
// updates the layer's own parameters with lr and returns dLoss/dInput.
// The first layer returns a nil gradient.
type Layer interface {
	Kind() string
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(grad *tensor.Tensor, lr float32) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	// InputCols is 0 for layers that consume token IDs.
	InputCols() int
	OutputCols() int
}

// Init draws initial weights from a seeded source so construction is reproducible.
type Init struct {
	rng *rand.Rand
}

// NewInit returns an initializer seeded with seed.
func NewInit(seed uint64) *Init {
	return &Init{rng: rand.New(rand.NewSource(seed))}
}

// Normal returns a rows×cols tensor with N(0, std²) entries.
func (in *Init) Normal(rows, cols int, std float64) *tensor.Tensor {
	t := tensor.New(rows, cols)
	for i := range t.Data {
		t.Data[i] = float32(in.rng.NormFloat64() * std)
	}
	return t
}

// He returns a fan-in scaled normal matrix.
func (in *Init) He(rows, cols int) *tensor.Tensor {
	return in.Normal(rows, cols, math.Sqrt(2.0/float64(rows)))
}

// Fill returns a rows×cols tensor with every entry set to v.
func Fill(rows, cols int, v float32) *tensor.Tensor {
	t := tensor.New(rows, cols)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// CountParameters sums the element counts of params.
func CountParameters(params []*tensor.Tensor) int {
	n := 0
	for _, p := range params {
		n += len(p.Data)
	}
	return n
}
