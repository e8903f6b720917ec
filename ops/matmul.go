package ops

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/nvr-ai/go-detect/models/model"
)

// MatMul computes A·Bᵀ for A [M, K] and B [N, K].
type MatMul struct {
	m, k, n int
}

// NewMatMul creates the layer for fixed dimensions.
//
// Returns:
//   - model.ErrInvalidConfig if a dimension is not positive.
func NewMatMul(m, k, n int) (*MatMul, error) {
	if m <= 0 || k <= 0 || n <= 0 {
		return nil, errors.Wrapf(model.ErrInvalidConfig, "matmul: dims %dx%dx%d must be positive", m, k, n)
	}
	return &MatMul{m: m, k: k, n: n}, nil
}

// OutputShape returns [M, N].
func (mm *MatMul) OutputShape() []int {
	return []int{mm.m, mm.n}
}

// Forward writes A·Bᵀ into out, row-major [M, N].
//
// Returns:
//   - model.ErrShapeMismatch if a or b is shorter than its dimensions.
//   - model.ErrOutputTooSmall if out cannot hold M*N values.
func (mm *MatMul) Forward(a, b, out []float32) error {
	if len(a) < mm.m*mm.k {
		return errors.Wrapf(model.ErrShapeMismatch, "matmul: a has %d values, want %dx%d", len(a), mm.m, mm.k)
	}
	if len(b) < mm.n*mm.k {
		return errors.Wrapf(model.ErrShapeMismatch, "matmul: b has %d values, want %dx%d", len(b), mm.n, mm.k)
	}
	if err := model.CheckOutput("matmul", out, mm.OutputShape()); err != nil {
		return err
	}

	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: mm.m, Cols: mm.k, Stride: mm.k, Data: a[:mm.m*mm.k]},
		blas32.General{Rows: mm.n, Cols: mm.k, Stride: mm.k, Data: b[:mm.n*mm.k]},
		0,
		blas32.General{Rows: mm.m, Cols: mm.n, Stride: mm.n, Data: out[:mm.m*mm.n]},
	)
	return nil
}
