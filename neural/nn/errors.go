package nn

import (
	"errors"
	"fmt"

	"github.com/golangast/gpt/neural/tensor"
)

var (
	// ErrShapeMismatch marks a tensor whose width disagrees with a layer's configuration.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrToken marks a token ID outside the vocabulary or embedding table.
	ErrToken = errors.New("token error")
	// ErrArchitecture marks non-positive or inconsistent hyperparameters.
	ErrArchitecture = errors.New("architecture error")
	// ErrTraining marks degenerate numeric state or an unusable example.
	ErrTraining = errors.New("training error")
	// ErrNoForward is returned when Backward runs without a cached forward pass.
	ErrNoForward = errors.New("backward called before forward")
)

// ShapeMismatchError carries the layer and the disagreeing shapes.
type ShapeMismatchError struct {
	Layer    string
	Expected string
	Actual   string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: %v: expected %s, got %s", e.Layer, ErrShapeMismatch, e.Expected, e.Actual)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

func shapeMismatch(layer, expected, actual string) error {
	return &ShapeMismatchError{Layer: layer, Expected: expected, Actual: actual}
}

// wrapShape converts kernel shape errors into layer shape mismatches.
func wrapShape(layer string, err error) error {
	if err == nil {
		return nil
	}
	var se *tensor.ShapeError
	if errors.As(err, &se) {
		return &ShapeMismatchError{Layer: layer + " " + se.Op, Expected: se.Expected, Actual: se.Actual}
	}
	return fmt.Errorf("%s: %w", layer, err)
}

func checkCols(layer string, t *tensor.Tensor, cols int) error {
	if t == nil {
		return fmt.Errorf("%s: nil tensor: %w", layer, ErrShapeMismatch)
	}
	if t.Cols != cols {
		return shapeMismatch(layer, fmt.Sprintf("(*, %d)", cols), t.Shape())
	}
	return nil
}

func checkSameShape(layer string, got, want *tensor.Tensor) error {
	if got == nil {
		return fmt.Errorf("%s: nil gradient: %w", layer, ErrShapeMismatch)
	}
	if !got.SameShape(want) {
		return shapeMismatch(layer, want.Shape(), got.Shape())
	}
	return nil
}

// Errors raised by the collaborators around the model.
var (
	ErrConfig        = errors.New("config error")
	ErrDataLoad      = errors.New("data load error")
	ErrSerialization = errors.New("serialization error")
)
