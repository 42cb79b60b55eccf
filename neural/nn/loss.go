package nn

import (
	"fmt"
	"math"

	"github.com/golangast/gpt/neural/tensor"
)

// probFloor keeps log() finite when a target probability underflows.
const probFloor = 1e-15

// Softmax converts logits into per-row probability distributions.
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	return tensor.SoftmaxRows(logits)
}

// CrossEntropy returns the mean of −log(p[target]) over the rows of probs.
// probs must have one row per target.
func CrossEntropy(probs *tensor.Tensor, targets []int) (float32, error) {
	if err := checkTargets(probs, targets); err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		return 0, fmt.Errorf("cross entropy over an empty sequence: %w", ErrTraining)
	}
	var loss float64
	for i, target := range targets {
		p := float64(probs.At(i, target))
		loss -= math.Log(math.Max(p, probFloor))
	}
	return float32(loss / float64(len(targets))), nil
}

// SeedGradient returns dLoss/dLogits for softmax cross-entropy, probs − onehot(targets).
// The difference is not divided by the sequence length; ClipGradNorm bounds its size.
func SeedGradient(probs *tensor.Tensor, targets []int) (*tensor.Tensor, error) {
	if err := checkTargets(probs, targets); err != nil {
		return nil, err
	}
	grad := probs.Clone()
	for i, target := range targets {
		grad.Data[i*grad.Cols+target] -= 1
	}
	return grad, nil
}

// ClipGradNorm rescales grad in place so its L2 norm is at most maxNorm and
// returns the norm measured before clipping.
func ClipGradNorm(grad *tensor.Tensor, maxNorm float32) float32 {
	norm := grad.Norm()
	if norm > maxNorm && norm > 0 {
		grad.Scale(maxNorm / norm)
	}
	return norm
}

func checkTargets(probs *tensor.Tensor, targets []int) error {
	if probs == nil || probs.Rows != len(targets) {
		actual := "nil"
		if probs != nil {
			actual = probs.Shape()
		}
		return shapeMismatch("loss", fmt.Sprintf("(%d, vocab)", len(targets)), actual)
	}
	for _, target := range targets {
		if target < 0 || target >= probs.Cols {
			return fmt.Errorf("target %d outside vocabulary of %d: %w", target, probs.Cols, ErrToken)
		}
	}
	return nil
}
