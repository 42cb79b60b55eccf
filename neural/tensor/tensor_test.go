package tensor

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"gonum.org/v1/gonum/mat"
)

func seq(rows, cols int, offset float32) *Tensor {
	t := New(rows, cols)
	for i := range t.Data {
		t.Data[i] = float32(i)*0.25 + offset
	}
	return t
}

func toDense(t *Tensor) *mat.Dense {
	data := make([]float64, len(t.Data))
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(t.Rows, t.Cols, data)
}

func assertClose(t *testing.T, got *Tensor, want *mat.Dense) {
	t.Helper()
	r, c := want.Dims()
	if got.Rows != r || got.Cols != c {
		t.Fatalf("shape %s, want (%d, %d)", got.Shape(), r, c)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.Abs(float64(got.At(i, j))-want.At(i, j)) > 1e-4 {
				t.Fatalf("element (%d, %d) = %v, want %v\n%s", i, j, got.At(i, j), want.At(i, j), spew.Sdump(got))
			}
		}
	}
}

func TestMatMulAgainstReference(t *testing.T) {
	a := seq(3, 4, -1)
	b := seq(4, 2, 0.5)

	var want mat.Dense
	want.Mul(toDense(a), toDense(b))

	got, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul: %v", err)
	}
	assertClose(t, got, &want)
}

func TestTransposedProducts(t *testing.T) {
	a := seq(3, 4, -1)
	b := seq(3, 2, 0.5)
	c := seq(5, 4, 0.1)

	var wantA mat.Dense
	wantA.Mul(toDense(a).T(), toDense(b))
	gotA, err := MatMulTransA(a, b)
	if err != nil {
		t.Fatalf("MatMulTransA: %v", err)
	}
	assertClose(t, gotA, &wantA)

	var wantB mat.Dense
	wantB.Mul(toDense(a), toDense(c).T())
	gotB, err := MatMulTransB(a, c)
	if err != nil {
		t.Fatalf("MatMulTransB: %v", err)
	}
	assertClose(t, gotB, &wantB)

	assertClose(t, a.Transpose(), mat.DenseCopyOf(toDense(a).T()))
}

func TestShapeErrors(t *testing.T) {
	a := New(2, 3)
	b := New(2, 3)
	var shapeErr *ShapeError

	if _, err := MatMul(a, b); !errors.As(err, &shapeErr) {
		t.Fatalf("MatMul error = %v, want *ShapeError", err)
	}
	if _, err := Add(a, New(3, 2)); !errors.As(err, &shapeErr) {
		t.Fatalf("Add error = %v, want *ShapeError", err)
	}
	if err := a.AddRowVector(New(1, 2)); !errors.As(err, &shapeErr) {
		t.Fatalf("AddRowVector error = %v, want *ShapeError", err)
	}
}

func TestRowVectorAndColumnSums(t *testing.T) {
	x := seq(2, 3, 0)
	bias := FromSlice(1, 3, []float32{1, 2, 3})
	if err := x.AddRowVector(bias); err != nil {
		t.Fatalf("AddRowVector: %v", err)
	}
	want := []float32{1, 2.25, 3.5, 1.75, 3, 4.25}
	for i, v := range want {
		if x.Data[i] != v {
			t.Fatalf("data[%d] = %v, want %v", i, x.Data[i], v)
		}
	}

	sums := x.SumRows()
	if sums.Rows != 1 || sums.Cols != 3 {
		t.Fatalf("SumRows shape %s", sums.Shape())
	}
	if sums.Data[0] != 2.75 || sums.Data[2] != 7.75 {
		t.Fatalf("SumRows = %v", sums.Data)
	}
}

func TestNormAndScale(t *testing.T) {
	x := FromSlice(1, 2, []float32{3, 4})
	if n := x.Norm(); math.Abs(float64(n)-5) > 1e-6 {
		t.Fatalf("Norm = %v, want 5", n)
	}
	x.Scale(0.5)
	if x.Data[0] != 1.5 || x.Data[1] != 2 {
		t.Fatalf("Scale gave %v", x.Data)
	}
}

func TestSoftmaxRows(t *testing.T) {
	neg := float32(math.Inf(-1))
	logits := FromSlice(3, 3, []float32{
		1, 2, 3,
		1000, 1000, -1000,
		0, neg, neg,
	})
	probs := SoftmaxRows(logits)
	for i := 0; i < probs.Rows; i++ {
		var sum float32
		for _, p := range probs.Row(i) {
			if p < 0 {
				t.Fatalf("row %d has negative probability %v", i, p)
			}
			sum += p
		}
		if math.Abs(float64(sum)-1) > 1e-5 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
	if probs.At(2, 1) != 0 || probs.At(2, 2) != 0 || probs.At(2, 0) != 1 {
		t.Fatalf("masked row = %v", probs.Row(2))
	}
	if ArgMax(probs.Row(0)) != 2 {
		t.Fatalf("ArgMax = %d", ArgMax(probs.Row(0)))
	}
}

func TestGobRoundTrip(t *testing.T) {
	in := seq(2, 3, 1)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := &Tensor{}
	if err := gob.NewDecoder(&buf).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.SameShape(in) || out.Data[5] != in.Data[5] {
		t.Fatalf("round trip mismatch:\n%s", spew.Sdump(out))
	}
}
