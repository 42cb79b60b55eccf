package tensor

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Tensor is a dense row-major matrix of float32 values.
// Rows are sequence positions, columns are features.
type Tensor struct {
	Rows int
	Cols int
	Data []float32
}

// ShapeError reports two tensors whose shapes cannot be combined.
type ShapeError struct {
	Op       string
	Expected string
	Actual   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Op, e.Expected, e.Actual)
}

// New returns a zero-filled rows×cols tensor.
func New(rows, cols int) *Tensor {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("tensor: negative shape (%d, %d)", rows, cols))
	}
	return &Tensor{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// FromSlice wraps data as a rows×cols tensor. The slice is not copied.
func FromSlice(rows, cols int, data []float32) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: %d values cannot fill shape (%d, %d)", len(data), rows, cols))
	}
	return &Tensor{Rows: rows, Cols: cols, Data: data}
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Rows: t.Rows, Cols: t.Cols, Data: data}
}

// Shape returns the shape formatted as "(rows, cols)".
func (t *Tensor) Shape() string {
	return fmt.Sprintf("(%d, %d)", t.Rows, t.Cols)
}

// SameShape reports whether t and other have identical dimensions.
func (t *Tensor) SameShape(other *Tensor) bool {
	return t.Rows == other.Rows && t.Cols == other.Cols
}

func (t *Tensor) At(i, j int) float32 {
	return t.Data[i*t.Cols+j]
}

func (t *Tensor) Set(i, j int, v float32) {
	t.Data[i*t.Cols+j] = v
}

// Row returns row i as a slice sharing the tensor's storage.
func (t *Tensor) Row(i int) []float32 {
	return t.Data[i*t.Cols : (i+1)*t.Cols]
}

// Zero resets every element to 0.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// HasNonFinite reports whether any element is NaN or ±Inf.
func (t *Tensor) HasNonFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

func (t *Tensor) general() blas32.General {
	stride := t.Cols
	if stride == 0 {
		stride = 1
	}
	return blas32.General{Rows: t.Rows, Cols: t.Cols, Stride: stride, Data: t.Data}
}

func (t *Tensor) vector() blas32.Vector {
	return blas32.Vector{N: len(t.Data), Inc: 1, Data: t.Data}
}

// MatMul returns a·b.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Cols != b.Rows {
		return nil, &ShapeError{Op: "matmul", Expected: fmt.Sprintf("(%d, *)", a.Cols), Actual: b.Shape()}
	}
	return gemm(blas.NoTrans, blas.NoTrans, a, b, a.Rows, b.Cols, a.Cols), nil
}

// MatMulTransA returns aᵀ·b.
func MatMulTransA(a, b *Tensor) (*Tensor, error) {
	if a.Rows != b.Rows {
		return nil, &ShapeError{Op: "matmul transA", Expected: fmt.Sprintf("(%d, *)", a.Rows), Actual: b.Shape()}
	}
	return gemm(blas.Trans, blas.NoTrans, a, b, a.Cols, b.Cols, a.Rows), nil
}

// MatMulTransB returns a·bᵀ.
func MatMulTransB(a, b *Tensor) (*Tensor, error) {
	if a.Cols != b.Cols {
		return nil, &ShapeError{Op: "matmul transB", Expected: fmt.Sprintf("(*, %d)", a.Cols), Actual: b.Shape()}
	}
	return gemm(blas.NoTrans, blas.Trans, a, b, a.Rows, b.Rows, a.Cols), nil
}

func gemm(tA, tB blas.Transpose, a, b *Tensor, m, n, k int) *Tensor {
	out := New(m, n)
	if m == 0 || n == 0 || k == 0 {
		return out
	}
	blas32.Gemm(tA, tB, 1, a.general(), b.general(), 0, out.general())
	return out
}

// Add returns a+b elementwise.
func Add(a, b *Tensor) (*Tensor, error) {
	out := a.Clone()
	if err := out.AddInPlace(b); err != nil {
		return nil, err
	}
	return out, nil
}

// AddInPlace adds other into t.
func (t *Tensor) AddInPlace(other *Tensor) error {
	if !t.SameShape(other) {
		return &ShapeError{Op: "add", Expected: t.Shape(), Actual: other.Shape()}
	}
	if len(t.Data) == 0 {
		return nil
	}
	blas32.Axpy(1, other.vector(), t.vector())
	return nil
}

// Scale multiplies every element by alpha.
func (t *Tensor) Scale(alpha float32) {
	if len(t.Data) == 0 {
		return
	}
	blas32.Scal(alpha, t.vector())
}

// Norm returns the Euclidean norm over all elements.
func (t *Tensor) Norm() float32 {
	if len(t.Data) == 0 {
		return 0
	}
	return blas32.Nrm2(t.vector())
}

// Transpose returns a new cols×rows tensor.
func (t *Tensor) Transpose() *Tensor {
	out := New(t.Cols, t.Rows)
	for i := 0; i < t.Rows; i++ {
		for j := 0; j < t.Cols; j++ {
			out.Data[j*t.Rows+i] = t.Data[i*t.Cols+j]
		}
	}
	return out
}

// AddRowVector adds the 1×cols tensor v to every row of t.
func (t *Tensor) AddRowVector(v *Tensor) error {
	if v.Rows != 1 || v.Cols != t.Cols {
		return &ShapeError{Op: "add row vector", Expected: fmt.Sprintf("(1, %d)", t.Cols), Actual: v.Shape()}
	}
	for i := 0; i < t.Rows; i++ {
		blas32.Axpy(1, v.vector(), blas32.Vector{N: t.Cols, Inc: 1, Data: t.Row(i)})
	}
	return nil
}

// SumRows collapses the rows of t into a 1×cols tensor of column sums.
func (t *Tensor) SumRows() *Tensor {
	out := New(1, t.Cols)
	for i := 0; i < t.Rows; i++ {
		row := t.Row(i)
		for j, v := range row {
			out.Data[j] += v
		}
	}
	return out
}

// GobEncode implements the gob.GobEncoder interface.
func (t *Tensor) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(t.Rows); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.Cols); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.Data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface.
func (t *Tensor) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	if err := dec.Decode(&t.Rows); err != nil {
		return err
	}
	if err := dec.Decode(&t.Cols); err != nil {
		return err
	}
	if err := dec.Decode(&t.Data); err != nil {
		return err
	}
	if len(t.Data) != t.Rows*t.Cols {
		return fmt.Errorf("decoded %d values for shape (%d, %d)", len(t.Data), t.Rows, t.Cols)
	}
	return nil
}
