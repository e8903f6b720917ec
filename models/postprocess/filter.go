package postprocess

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/geometry"
)

// ErrFilterInput is returned when filter buffers disagree with their dimensions.
var ErrFilterInput = errors.New("filter input length mismatch")

// FilterClassScores emits one candidate per (proposal, class) whose score is
// above the threshold.
//
// Iteration is proposal-major, class-minor and no sorting is applied; the
// suppressor depends on this emission order.
//
// Arguments:
//   - boxes: Decoded boxes laid out [n, classes].
//   - scores: Class scores laid out [n, classes].
//   - n: Number of proposals.
//   - classes: Number of classes, background included.
//   - threshold: Minimum score, exclusive.
//   - skipBackground: If true, class 0 never produces a candidate.
//
// Returns:
//   - Candidates in emission order.
//   - ErrFilterInput if the buffers do not hold n*classes entries.
func FilterClassScores(
	boxes []geometry.Box,
	scores []float32,
	n, classes int,
	threshold float32,
	skipBackground bool,
) ([]Result, error) {
	if len(boxes) != n*classes || len(scores) != n*classes {
		return nil, errors.Wrapf(ErrFilterInput, "boxes=%d scores=%d, want %d x %d",
			len(boxes), len(scores), n, classes)
	}

	first := 0
	if skipBackground {
		first = 1
	}

	var out []Result
	for i := 0; i < n; i++ {
		for c := first; c < classes; c++ {
			score := scores[i*classes+c]
			if score > threshold {
				out = append(out, Result{
					Box:   boxes[i*classes+c],
					Score: score,
					Class: c,
				})
			}
		}
	}
	return out, nil
}

// GridHit is a grid location whose score passed FilterGrid.
type GridHit struct {
	// Index is j + count*Anchor, the shared index into the anchor plane.
	Index int
	// Anchor is the anchor number at the location.
	Anchor int
	// Location is the row-major grid offset.
	Location int
	// Score is the confidence at the location.
	Score float32
}

// FilterGrid scans an anchor-major score plane and returns every entry above
// the threshold.
//
// Arguments:
//   - scores: Scores laid out [numAnchors, count].
//   - numAnchors: Anchors per location.
//   - count: Grid locations (height*width).
//   - threshold: Minimum score, exclusive.
//
// Returns:
//   - Hits ordered by anchor number, then location.
//   - ErrFilterInput if scores holds fewer than numAnchors*count values.
func FilterGrid(scores []float32, numAnchors, count int, threshold float32) ([]GridHit, error) {
	if len(scores) < numAnchors*count {
		return nil, errors.Wrapf(ErrFilterInput, "scores=%d, want %d anchors x %d locations",
			len(scores), numAnchors, count)
	}

	var out []GridHit
	for num := 0; num < numAnchors; num++ {
		for j := 0; j < count; j++ {
			idx := j + count*num
			if s := scores[idx]; s > threshold {
				out = append(out, GridHit{Index: idx, Anchor: num, Location: j, Score: s})
			}
		}
	}
	return out, nil
}
