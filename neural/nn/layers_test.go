package nn

import (
	"errors"
	"math"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/golangast/gpt/neural/tensor"
)

const testDim = 4

func spread(rows, cols int) *tensor.Tensor {
	t := tensor.New(rows, cols)
	for i := range t.Data {
		t.Data[i] = float32(math.Sin(float64(i)*1.7+0.3)) * 1.5
	}
	return t
}

// weightedSum is the scalar loss Σ out⊙r used by the gradient checks.
func weightedSum(out, r *tensor.Tensor) float64 {
	var s float64
	for i, v := range out.Data {
		s += float64(v) * float64(r.Data[i])
	}
	return s
}

// checkInputGradient compares Backward with central differences of Σ forward(x)⊙r.
// lr is zero so the parameters stay fixed while the loss is probed.
func checkInputGradient(t *testing.T, layer Layer, x *tensor.Tensor) {
	t.Helper()
	out, err := layer.Forward(x)
	if err != nil {
		t.Fatalf("%s forward: %v", layer.Kind(), err)
	}
	r := spread(out.Rows, out.Cols)
	analytic, err := layer.Backward(r, 0)
	if err != nil {
		t.Fatalf("%s backward: %v", layer.Kind(), err)
	}
	if !analytic.SameShape(x) {
		t.Fatalf("%s gradient shape %s, want %s", layer.Kind(), analytic.Shape(), x.Shape())
	}

	const h = 1e-2
	for i := range x.Data {
		orig := x.Data[i]
		x.Data[i] = orig + h
		plus, err := layer.Forward(x)
		if err != nil {
			t.Fatal(err)
		}
		x.Data[i] = orig - h
		minus, err := layer.Forward(x)
		if err != nil {
			t.Fatal(err)
		}
		x.Data[i] = orig

		numeric := (weightedSum(plus, r) - weightedSum(minus, r)) / (2 * h)
		got := float64(analytic.Data[i])
		if math.Abs(got-numeric) > 2e-2+5e-2*math.Abs(numeric) {
			t.Fatalf("%s d/dx[%d] = %v, numeric %v\n%s", layer.Kind(), i, got, numeric, spew.Sdump(analytic))
		}
	}
}

func TestInputGradients(t *testing.T) {
	src := NewInit(7)

	positiveFF := NewFeedForward(testDim, 6, src)
	for i, w := range positiveFF.In.Weights.Data {
		positiveFF.In.Weights.Data[i] = float32(math.Abs(float64(w))) + 0.1
	}
	positiveInput := spread(3, testDim)
	for i, v := range positiveInput.Data {
		positiveInput.Data[i] = float32(math.Abs(float64(v))) + 0.2
	}

	// keep every relu unit active so finite differences never straddle a kink
	block := NewTransformerBlock(testDim, 6, src)
	blockFF := block.FeedForward.Sublayer.(*FeedForward)
	for i := range blockFF.In.Biases.Data {
		blockFF.In.Biases.Data[i] = 10
	}

	tests := []struct {
		name  string
		layer Layer
		input *tensor.Tensor
	}{
		{"self attention", NewSelfAttention(testDim, src), spread(3, testDim)},
		{"feed forward", positiveFF, positiveInput},
		{"layer norm", NewLayerNorm(testDim), spread(3, testDim)},
		{"residual attention", &NormalizedResidual{Sublayer: NewSelfAttention(testDim, src), Norm: NewLayerNorm(testDim)}, spread(3, testDim)},
		{"transformer block", block, spread(2, testDim)},
		{"output projection", NewOutputProjection(testDim, 5, src), spread(3, testDim)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkInputGradient(t, tt.layer, tt.input)
		})
	}
}

func TestFeedForwardReluMask(t *testing.T) {
	ff := NewFeedForward(testDim, 6, NewInit(3))
	for i := range ff.In.Biases.Data {
		ff.In.Biases.Data[i] = -100
	}
	x := spread(2, testDim)
	if _, err := ff.Forward(x); err != nil {
		t.Fatal(err)
	}
	grad, err := ff.Backward(spread(2, testDim), 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, g := range grad.Data {
		if g != 0 {
			t.Fatalf("gradient %d = %v through inactive relu units", i, g)
		}
	}
}

func TestAttentionIsCausal(t *testing.T) {
	attn := NewSelfAttention(testDim, NewInit(11))
	x := spread(4, testDim)
	out, err := attn.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	w := attn.AttentionWeights()
	for i := 0; i < w.Rows; i++ {
		var sum float32
		for j := 0; j < w.Cols; j++ {
			if j > i && w.At(i, j) != 0 {
				t.Fatalf("weight (%d, %d) = %v attends to the future", i, j, w.At(i, j))
			}
			sum += w.At(i, j)
		}
		if math.Abs(float64(sum)-1) > 1e-5 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}

	// Changing the last position must leave earlier outputs untouched.
	changed := x.Clone()
	for j := 0; j < testDim; j++ {
		changed.Set(3, j, changed.At(3, j)+5)
	}
	out2, err := attn.Forward(changed)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < testDim; j++ {
			if math.Abs(float64(out.At(i, j)-out2.At(i, j))) > 1e-6 {
				t.Fatalf("output (%d, %d) changed with a later token", i, j)
			}
		}
	}
}

func TestAttentionSingleToken(t *testing.T) {
	attn := NewSelfAttention(testDim, NewInit(5))
	out, err := attn.Forward(spread(1, testDim))
	if err != nil {
		t.Fatal(err)
	}
	if out.Rows != 1 || out.Cols != testDim || out.HasNonFinite() {
		t.Fatalf("unexpected output %s", spew.Sdump(out))
	}
	if w := attn.AttentionWeights(); w.At(0, 0) != 1 {
		t.Fatalf("attention weight %v, want 1", w.At(0, 0))
	}
	grad, err := attn.Backward(spread(1, testDim), 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if grad.HasNonFinite() {
		t.Fatalf("non-finite gradient %v", grad.Data)
	}
}

func TestLayerShapes(t *testing.T) {
	src := NewInit(1)
	layers := []Layer{
		NewSelfAttention(testDim, src),
		NewFeedForward(testDim, 8, src),
		NewLayerNorm(testDim),
		NewTransformerBlock(testDim, 8, src),
		NewOutputProjection(testDim, 9, src),
	}
	for _, l := range layers {
		t.Run(l.Kind(), func(t *testing.T) {
			if _, err := l.Backward(spread(3, l.OutputCols()), 0.01); !errors.Is(err, ErrNoForward) {
				t.Fatalf("backward before forward: got %v", err)
			}

			out, err := l.Forward(spread(3, testDim))
			if err != nil {
				t.Fatal(err)
			}
			if out.Rows != 3 || out.Cols != l.OutputCols() {
				t.Fatalf("output shape %s", out.Shape())
			}
			grad, err := l.Backward(spread(3, l.OutputCols()), 0.01)
			if err != nil {
				t.Fatal(err)
			}
			if grad.Rows != 3 || grad.Cols != l.InputCols() {
				t.Fatalf("gradient shape %s", grad.Shape())
			}

			_, err = l.Forward(spread(3, testDim+1))
			var sm *ShapeMismatchError
			if !errors.As(err, &sm) || !errors.Is(err, ErrShapeMismatch) {
				t.Fatalf("wrong width: got %v", err)
			}
		})
	}
}

func TestLinearUpdatesParameters(t *testing.T) {
	l := NewLinear("probe", 3, 2, NewInit(2))
	before := l.Weights.Clone()
	x := spread(2, 3)
	if _, err := l.Forward(x); err != nil {
		t.Fatal(err)
	}
	grad := spread(2, 2)
	if _, err := l.Backward(grad, 0.1); err != nil {
		t.Fatal(err)
	}
	// First Adam step moves each weight by lr against the sign of its gradient.
	dW, _ := tensor.MatMulTransA(x, grad)
	for i, g := range dW.Data {
		delta := l.Weights.Data[i] - before.Data[i]
		if g != 0 && (delta*g > 0 || math.Abs(math.Abs(float64(delta))-0.1) > 1e-3) {
			t.Fatalf("weight %d moved %v for gradient %v", i, delta, g)
		}
	}
}

func TestNewNormalizedResidualRejectsWidthChange(t *testing.T) {
	_, err := NewNormalizedResidual(NewOutputProjection(testDim, 7, NewInit(1)))
	if !errors.Is(err, ErrArchitecture) {
		t.Fatalf("got %v, want ErrArchitecture", err)
	}
	if _, err := NewNormalizedResidual(NewFeedForward(testDim, 8, NewInit(1))); err != nil {
		t.Fatal(err)
	}
}
