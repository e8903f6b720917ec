package model

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Float32Data returns the backing slice of a float32 tensor without copying.
//
// Arguments:
//   - name: Input name used in error messages.
//   - t: The tensor.
//
// Returns:
//   - The row-major data.
//   - ErrShapeMismatch if the tensor is nil, not float32, or its backing slice
//     is shorter than its shape.
func Float32Data(name string, t tensor.Tensor) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: missing tensor", name)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: dtype %v, want float32", name, t.Dtype())
	}
	if len(data) < t.Shape().TotalSize() {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: %d values backing shape %v",
			name, len(data), t.Shape())
	}
	return data, nil
}

// CheckShape verifies that a tensor has exactly the given dimensions. A
// negative expected dimension matches any size.
//
// Returns:
//   - The tensor shape on success.
//   - ErrShapeMismatch describing the first difference otherwise.
func CheckShape(name string, t tensor.Tensor, want ...int) (tensor.Shape, error) {
	if t == nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: missing tensor", name)
	}
	shape := t.Shape()
	if len(shape) != len(want) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: shape %v has %d dims, want %d",
			name, shape, len(shape), len(want))
	}
	for i, w := range want {
		if w >= 0 && shape[i] != w {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: dim %d is %d, want %d (shape %v)",
				name, i, shape[i], w, shape)
		}
	}
	return shape, nil
}

// CheckInputs verifies the number of inputs handed to Forward.
func CheckInputs(variant Name, inputs []tensor.Tensor, want int) error {
	if len(inputs) != want {
		return errors.Wrapf(ErrShapeMismatch, "%s: got %d inputs, want %d", variant, len(inputs), want)
	}
	return nil
}

// CheckOutput verifies that out can hold the given output shape.
func CheckOutput(variant Name, out []float32, shape []int) error {
	need := 1
	for _, d := range shape {
		need *= d
	}
	if len(out) < need {
		return errors.Wrapf(ErrOutputTooSmall, "%s: output holds %d values, shape %v needs %d",
			variant, len(out), shape, need)
	}
	return nil
}
