// Package onnx - bridges onnxruntime outputs to the detection layers.
//
// Network outputs produced by an onnxruntime session are wrapped as
// gorgonia tensors without copying and handed to a model.Detector.
package onnx

import (
	"github.com/modern-go/reflect2"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/models/model"
)

// ORTTensor is the read side of an onnxruntime float32 tensor.
// *ort.Tensor[float32] satisfies it.
type ORTTensor interface {
	GetData() []float32
	GetShape() ort.Shape
}

var _ ORTTensor = (*ort.Tensor[float32])(nil)

// FromORT wraps session outputs as dense float32 tensors sharing their
// backing memory.
//
// Arguments:
//   - outputs: Tensors in the order the detector expects them.
//
// Returns:
//   - One tensor per output. They alias the onnxruntime buffers and are only
//     valid until the next session run.
//   - model.ErrShapeMismatch for a nil output (including a typed nil
//     pointer), a negative dimension or a data
//     buffer shorter than its shape.
func FromORT(outputs ...ORTTensor) ([]tensor.Tensor, error) {
	out := make([]tensor.Tensor, len(outputs))
	for i, o := range outputs {
		if reflect2.IsNil(o) {
			return nil, errors.Wrapf(model.ErrShapeMismatch, "onnx: output %d is nil", i)
		}

		ortShape := o.GetShape()
		shape := make([]int, len(ortShape))
		size := 1
		for d, v := range ortShape {
			if v < 0 {
				return nil, errors.Wrapf(model.ErrShapeMismatch, "onnx: output %d has dynamic dim %d in %v",
					i, d, ortShape)
			}
			shape[d] = int(v)
			size *= int(v)
		}

		data := o.GetData()
		if len(data) < size {
			return nil, errors.Wrapf(model.ErrShapeMismatch, "onnx: output %d holds %d values for shape %v",
				i, len(data), ortShape)
		}
		out[i] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data[:size]))
	}
	return out, nil
}
