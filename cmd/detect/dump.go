package main

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/models/model"
)

// Dump is a JSON file of network outputs in detector input order.
type Dump struct {
	Tensors []DumpTensor `json:"tensors"`
}

// DumpTensor is one row-major float32 tensor.
type DumpTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ReadDump decodes a tensor dump and builds the detector inputs.
func ReadDump(r io.Reader) ([]tensor.Tensor, error) {
	var d Dump
	if err := jsoniter.NewDecoder(r).Decode(&d); err != nil {
		return nil, errors.Wrap(err, "decode tensor dump")
	}

	out := make([]tensor.Tensor, len(d.Tensors))
	for i, t := range d.Tensors {
		size := 1
		for _, v := range t.Shape {
			if v <= 0 {
				return nil, errors.Wrapf(model.ErrShapeMismatch, "tensor %d (%s): shape %v", i, t.Name, t.Shape)
			}
			size *= v
		}
		if len(t.Shape) == 0 || len(t.Data) != size {
			return nil, errors.Wrapf(model.ErrShapeMismatch, "tensor %d (%s): %d values for shape %v",
				i, t.Name, len(t.Data), t.Shape)
		}
		out[i] = tensor.New(tensor.WithShape(t.Shape...), tensor.WithBacking(t.Data))
	}
	return out, nil
}

// Record is one output row as printed by the command.
type Record struct {
	Frame  int       `json:"frame,omitempty"`
	Batch  int       `json:"batch"`
	Label  string    `json:"label,omitempty"`
	Values []float32 `json:"values"`
}

// labeler names the class of a record, or returns "" when the layout has no
// class column.
type labeler func(values []float32) string

// Records slices the written rows of a flat output buffer.
//
// Arguments:
//   - out: Output of shape [batch, 1, topK, width].
//   - shape: The detector OutputShape.
//   - counts: Rows written per batch item.
//   - label: Optional class namer.
func Records(out []float32, shape []int, counts []int, label labeler) []Record {
	topK, width := shape[2], shape[3]
	var recs []Record
	for b, n := range counts {
		for i := 0; i < n; i++ {
			off := (b*topK + i) * width
			rec := Record{Batch: b, Values: out[off : off+width]}
			if label != nil {
				rec.Label = label(rec.Values)
			}
			recs = append(recs, rec)
		}
	}
	return recs
}
