// Package model - Definitions shared by every detection layer variant.
package model

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/models/postprocess"
)

// Name is the unique identifier of a detection layer variant.
type Name string

const (
	// ModelNameFRCN is the two-stage Faster R-CNN detection head.
	ModelNameFRCN Name = "frcn"
	// ModelNameYOLO is the single-shot YOLO grid detection head.
	ModelNameYOLO Name = "yolo"
	// ModelNameRetinaFace is the multi-scale RetinaFace pyramid face detector.
	ModelNameRetinaFace Name = "retinaface"
	// ModelNameProposal is the region proposal layer feeding ModelNameFRCN.
	ModelNameProposal Name = "proposal"
)

// Names lists every supported variant.
var Names = []Name{ModelNameFRCN, ModelNameYOLO, ModelNameRetinaFace, ModelNameProposal}

var (
	// ErrInvalidConfig is returned when a layer configuration is rejected at setup.
	ErrInvalidConfig = errors.New("invalid layer configuration")
	// ErrUnsupported is returned for configuration combinations that are not implemented.
	ErrUnsupported = errors.New("unsupported configuration")
	// ErrShapeMismatch is returned when an input tensor does not match the configuration.
	ErrShapeMismatch = errors.New("tensor shape does not match configuration")
	// ErrOutputTooSmall is returned when the output buffer cannot hold OutputShape values.
	ErrOutputTooSmall = errors.New("output buffer too small")
)

// Detector is a configured detection layer.
//
// Implementations hold only read-only configuration and derived caches, so a
// single Detector can serve concurrent Forward calls.
type Detector interface {
	// Name returns the variant identifier.
	Name() Name
	// OutputShape returns the [batch, 1, topK, recordWidth] output shape.
	OutputShape(batch int) []int
	// Forward runs post-processing and packs records into out.
	//
	// It returns the number of records written for each batch item. Rows
	// beyond that count keep their previous contents.
	Forward(inputs []tensor.Tensor, out []float32) ([]int, error)
	// Detect runs the same pipeline and returns typed results per batch item.
	Detect(inputs []tensor.Tensor) ([][]postprocess.Result, error)
}
