// Package postprocess - Shared filter, suppression and output packing stages.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-detect/geometry"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result, in corner form.
	Box geometry.Box
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result. Class 0 is background for
	// class-partitioned variants.
	Class int
	// The facial landmarks of the result, nil for variants without landmarks.
	Landmarks *[5]geometry.Point
}

// String formats the result for logs.
func (r Result) String() string {
	return fmt.Sprintf("class %d (score %.4f): %s", r.Class, r.Score, r.Box)
}
