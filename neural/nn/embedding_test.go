package nn

import (
	"errors"
	"testing"

	"github.com/golangast/gpt/neural/tensor"
)

func TestEmbeddingForward(t *testing.T) {
	e := NewEmbedding(5, 3, 4, NewInit(9))
	out, err := e.Forward(TokenTensor([]int{2, 0, 2}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Rows != 3 || out.Cols != 3 {
		t.Fatalf("shape %s", out.Shape())
	}
	for pos, id := range []int{2, 0, 2} {
		for d := 0; d < 3; d++ {
			want := e.Weight.At(id, d) + e.Positions.At(pos, d)
			if out.At(pos, d) != want {
				t.Fatalf("(%d, %d) = %v, want %v", pos, d, out.At(pos, d), want)
			}
		}
	}
}

func TestEmbeddingErrors(t *testing.T) {
	e := NewEmbedding(5, 3, 4, NewInit(9))
	tests := []struct {
		name string
		ids  []int
		want error
	}{
		{"id too large", []int{1, 5}, ErrToken},
		{"negative id", []int{-1}, ErrToken},
		{"too long", []int{0, 1, 2, 3, 4}, ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.ForwardIDs(tt.ids); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := e.Forward(tensor.FromSlice(1, 1, []float32{1.5})); !errors.Is(err, ErrToken) {
		t.Fatalf("fractional id: got %v", err)
	}
}

func TestDuplicateTokensAccumulate(t *testing.T) {
	grad := tensor.FromSlice(3, 2, []float32{1, 2, 10, 20, 100, 200})
	acc := accumulateTokenGrad([]int{1, 0, 1}, grad, 3)
	want := []float32{10, 20, 101, 202, 0, 0}
	for i, w := range want {
		if acc.Data[i] != w {
			t.Fatalf("acc = %v, want %v", acc.Data, want)
		}
	}
}

func TestEmbeddingBackwardTouchesUsedRows(t *testing.T) {
	e := NewEmbedding(4, 2, 3, NewInit(4))
	before := e.Weight.Clone()
	if _, err := e.ForwardIDs([]int{1, 1}); err != nil {
		t.Fatal(err)
	}
	up, err := e.Backward(tensor.FromSlice(2, 2, []float32{1, 1, 1, 1}), 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if up != nil {
		t.Fatal("embedding returned an upstream gradient")
	}
	for id := 0; id < 4; id++ {
		moved := e.Weight.At(id, 0) != before.At(id, 0)
		if moved != (id == 1) {
			t.Fatalf("row %d moved=%v", id, moved)
		}
	}
}
