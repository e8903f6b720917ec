// Package codec - decodes regression deltas against reference boxes.
//
// All decoders share the pixel-inclusive size convention: a reference box
// [x1, y1, x2, y2] has width x2-x1+1 and height y2-y1+1, and its center is
// x1 + width/2, y1 + height/2.
package codec

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/geometry"
)

// NumLandmarks is the number of facial landmark points decoded per anchor.
const NumLandmarks = 5

// ErrDeltaLength is returned when a delta buffer does not match the number of
// reference boxes it is decoded against.
var ErrDeltaLength = errors.New("delta buffer length mismatch")

// reference returns the width, height and center of a reference box.
func reference(ref geometry.Box) (w, h, cx, cy float32) {
	w = ref.X2 - ref.X1 + 1
	h = ref.Y2 - ref.Y1 + 1
	cx = ref.X1 + w/2
	cy = ref.Y1 + h/2
	return w, h, cx, cy
}

// DecodeBox maps a reference box and a [dx, dy, dw, dh] delta to a corner
// form box.
//
// Arguments:
//   - ref: The anchor or proposal box.
//   - delta: Center offsets relative to the reference size and log-space size scales.
//
// Returns:
//   - The decoded box. A zero delta returns a box centered on the reference
//     with the reference's pixel-inclusive size.
func DecodeBox(ref geometry.Box, delta [4]float32) geometry.Box {
	w, h, cx, cy := reference(ref)

	predCX := delta[0]*w + cx
	predCY := delta[1]*h + cy
	predW := math32.Exp(delta[2]) * w
	predH := math32.Exp(delta[3]) * h

	return geometry.Box{
		X1: predCX - predW/2,
		Y1: predCY - predH/2,
		X2: predCX + predW/2,
		Y2: predCY + predH/2,
	}
}

// DecodeClassBoxes decodes class specific deltas for every (roi, class) pair.
//
// Arguments:
//   - rois: The proposal boxes, one per row.
//   - deltas: Deltas laid out [len(rois), classes, 4].
//   - classes: The number of classes, background included.
//
// Returns:
//   - Boxes laid out [len(rois), classes]; the box for roi i and class c is at i*classes+c.
//   - ErrDeltaLength if deltas does not hold len(rois)*classes*4 values.
func DecodeClassBoxes(rois []geometry.Box, deltas []float32, classes int) ([]geometry.Box, error) {
	if classes <= 0 {
		return nil, errors.Wrapf(ErrDeltaLength, "class count %d must be positive", classes)
	}
	if len(deltas) != len(rois)*classes*4 {
		return nil, errors.Wrapf(ErrDeltaLength, "have %d deltas, need %d rois x %d classes x 4",
			len(deltas), len(rois), classes)
	}

	out := make([]geometry.Box, len(rois)*classes)
	for i, roi := range rois {
		for c := 0; c < classes; c++ {
			off := (i*classes + c) * 4
			out[i*classes+c] = DecodeBox(roi, [4]float32{
				deltas[off], deltas[off+1], deltas[off+2], deltas[off+3],
			})
		}
	}
	return out, nil
}

// DecodeLandmarks maps a reference box and a 10-value delta to five points.
//
// The delta holds the five x offsets followed by the five y offsets; point k
// is (delta[k]*w + cx, delta[k+5]*h + cy) with the same w, h and center as
// DecodeBox.
func DecodeLandmarks(ref geometry.Box, delta [2 * NumLandmarks]float32) [NumLandmarks]geometry.Point {
	w, h, cx, cy := reference(ref)

	var out [NumLandmarks]geometry.Point
	for k := 0; k < NumLandmarks; k++ {
		out[k] = geometry.Point{
			X: delta[k]*w + cx,
			Y: delta[k+NumLandmarks]*h + cy,
		}
	}
	return out
}

// ClipBox clamps a box to the image area [0, width-1] x [0, height-1].
func ClipBox(b geometry.Box, width, height float32) geometry.Box {
	return geometry.Box{
		X1: clamp(b.X1, 0, width-1),
		Y1: clamp(b.Y1, 0, height-1),
		X2: clamp(b.X2, 0, width-1),
		Y2: clamp(b.Y2, 0, height-1),
	}
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
