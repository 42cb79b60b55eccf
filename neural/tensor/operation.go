package tensor

import (
	"math"
)

// SoftmaxRows applies a numerically stable softmax to every row.
// Entries equal to -Inf come out as exactly 0.
func SoftmaxRows(t *Tensor) *Tensor {
	out := New(t.Rows, t.Cols)
	for i := 0; i < t.Rows; i++ {
		in := t.Row(i)
		row := out.Row(i)

		maxVal := float32(math.Inf(-1))
		for _, v := range in {
			if v > maxVal {
				maxVal = v
			}
		}
		if math.IsInf(float64(maxVal), -1) {
			// fully masked row, leave zeros
			continue
		}

		var sum float64
		for j, v := range in {
			e := math.Exp(float64(v - maxVal))
			row[j] = float32(e)
			sum += e
		}
		inv := float32(1 / sum)
		for j := range row {
			row[j] *= inv
		}
	}
	return out
}

// ArgMax returns the index of the largest value in row. Ties resolve to the lowest index.
func ArgMax(row []float32) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}
