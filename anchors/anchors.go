// Package anchors - reference anchor generation for grid based detectors.
//
// A base template of anchors is built once per configuration from a base
// size, aspect ratios and scales, then replicated over a feature map grid at
// the level's stride. The ordering of both steps is part of the contract with
// the network: the score and delta tensors are laid out anchor-major,
// location-minor, so the anchor for (anchor index num, location j) lives at
// index j + count*num where count = height*width.
package anchors

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/geometry"
)

// ErrInvalidTemplate is returned when a base template cannot be built.
var ErrInvalidTemplate = errors.New("invalid anchor template")

// GenerateBase builds the base anchor template.
//
// The reference anchor is the square [0, 0, baseSize-1, baseSize-1]. For each
// ratio (outer loop) the area is redistributed into width round(sqrt(area/r))
// and height round(width*r) around the same center; for each scale (inner
// loop) that anchor is enlarged by the scale around the same center.
//
// Arguments:
//   - baseSize: Side of the reference square in pixels.
//   - ratios: Aspect ratios (height / width).
//   - scales: Scale multipliers applied to each ratio anchor.
//
// Returns:
//   - len(ratios)*len(scales) anchors, ratio-major and scale-minor.
//   - ErrInvalidTemplate if the base size is not positive or either list is empty.
//
// Example:
//
//	base, _ := GenerateBase(16, []float32{0.5, 1, 2}, []float32{8, 16, 32})
//	// base[0] == geometry.Box{X1: -84, Y1: -40, X2: 99, Y2: 55}
func GenerateBase(baseSize float32, ratios, scales []float32) ([]geometry.Box, error) {
	if baseSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidTemplate, "base size %v must be positive", baseSize)
	}
	if len(ratios) == 0 || len(scales) == 0 {
		return nil, errors.Wrapf(ErrInvalidTemplate, "need at least one ratio and one scale, got %d and %d",
			len(ratios), len(scales))
	}

	ref := geometry.Box{X1: 0, Y1: 0, X2: baseSize - 1, Y2: baseSize - 1}
	w, h, cx, cy := whctrs(ref)
	area := w * h

	out := make([]geometry.Box, 0, len(ratios)*len(scales))
	for _, r := range ratios {
		if r <= 0 {
			return nil, errors.Wrapf(ErrInvalidTemplate, "ratio %v must be positive", r)
		}
		ws := round(math32.Sqrt(area / r))
		hs := round(ws * r)
		ratioAnchor := mkanchor(ws, hs, cx, cy)

		rw, rh, rcx, rcy := whctrs(ratioAnchor)
		for _, s := range scales {
			if s <= 0 {
				return nil, errors.Wrapf(ErrInvalidTemplate, "scale %v must be positive", s)
			}
			out = append(out, mkanchor(rw*s, rh*s, rcx, rcy))
		}
	}
	return out, nil
}

// Plane replicates the base template over a height x width grid.
//
// The anchor index is the slow axis and the row-major grid location the fast
// one: the result at j + height*width*num is base[num] shifted by
// (col(j)*stride, row(j)*stride).
//
// Arguments:
//   - height: Feature map height.
//   - width: Feature map width.
//   - stride: Pixel spacing between adjacent grid cells.
//   - base: The base template from GenerateBase.
//
// Returns:
//   - len(base)*height*width anchors. Identical inputs always produce identical output.
func Plane(height, width, stride int, base []geometry.Box) []geometry.Box {
	if height <= 0 || width <= 0 {
		return nil
	}
	count := height * width
	out := make([]geometry.Box, len(base)*count)
	for num, anchor := range base {
		for j := 0; j < count; j++ {
			row := j / width
			col := j % width
			out[j+count*num] = anchor.Translate(float32(col*stride), float32(row*stride))
		}
	}
	return out
}

// whctrs returns width, height and center of an anchor using the
// pixel-inclusive (+1) size convention.
func whctrs(b geometry.Box) (w, h, cx, cy float32) {
	w = b.X2 - b.X1 + 1
	h = b.Y2 - b.Y1 + 1
	cx = b.X1 + 0.5*(w-1)
	cy = b.Y1 + 0.5*(h-1)
	return w, h, cx, cy
}

func mkanchor(w, h, cx, cy float32) geometry.Box {
	return geometry.Box{
		X1: cx - 0.5*(w-1),
		Y1: cy - 0.5*(h-1),
		X2: cx + 0.5*(w-1),
		Y2: cy + 0.5*(h-1),
	}
}

func round(v float32) float32 {
	return math32.Floor(v + 0.5)
}
