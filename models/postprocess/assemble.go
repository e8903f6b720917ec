package postprocess

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrRecordBuffer is returned when an output slice cannot hold topK records.
var ErrRecordBuffer = errors.New("record buffer too small")

// Layout selects the fixed-width record format written by the assembler.
type Layout int

const (
	// LayoutCorner writes [x1, y1, x2, y2, class, score].
	LayoutCorner Layout = iota
	// LayoutCenter writes [cx, cy, w, h, class, score].
	LayoutCenter
	// LayoutLandmarks writes [x1, y1, x2, y2, score, x0, y0, ..., x4, y4].
	LayoutLandmarks
	// LayoutROI writes [batch, x1, y1, x2, y2].
	LayoutROI
)

// Width returns the number of floats per record.
func (l Layout) Width() int {
	switch l {
	case LayoutCorner, LayoutCenter:
		return 6
	case LayoutLandmarks:
		return 15
	case LayoutROI:
		return 5
	default:
		return 0
	}
}

func (l Layout) String() string {
	switch l {
	case LayoutCorner:
		return "corner"
	case LayoutCenter:
		return "center"
	case LayoutLandmarks:
		return "landmarks"
	case LayoutROI:
		return "roi"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// pack writes one record into dst, which must hold l.Width() values.
func (l Layout) pack(dst []float32, r Result, batch int) {
	switch l {
	case LayoutCorner:
		dst[0], dst[1], dst[2], dst[3] = r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2
		dst[4] = float32(r.Class)
		dst[5] = r.Score
	case LayoutCenter:
		c := r.Box.Center()
		dst[0], dst[1], dst[2], dst[3] = c.CX, c.CY, c.W, c.H
		dst[4] = float32(r.Class)
		dst[5] = r.Score
	case LayoutLandmarks:
		dst[0], dst[1], dst[2], dst[3] = r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2
		dst[4] = r.Score
		if r.Landmarks != nil {
			for k, p := range r.Landmarks {
				dst[5+2*k] = p.X
				dst[5+2*k+1] = p.Y
			}
		}
	case LayoutROI:
		dst[0] = float32(batch)
		dst[1], dst[2], dst[3], dst[4] = r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2
	}
}

// Keep returns the first min(topK, survivors) detections not marked removed,
// in emission order.
func Keep(detections []Result, removed []bool, topK int) []Result {
	out := Survivors(detections, removed)
	return out[:max(0, min(topK, len(out)))]
}

// Assembler packs surviving detections into fixed-width records.
type Assembler struct {
	// Layout is the record format.
	Layout Layout
	// TopK is the configured cap on records per batch item.
	TopK int
}

// ItemSize returns the number of floats reserved per batch item.
func (a Assembler) ItemSize() int {
	return a.TopK * a.Layout.Width()
}

// Assemble writes the surviving detections of one batch item.
//
// Survivors are taken in emission order, not by score, and truncated to a
// call-local min(TopK, survivors); the configured TopK is never modified.
// Rows past the written count are left untouched.
//
// Arguments:
//   - detections: Candidates in emission order.
//   - removed: Suppression mask aligned with detections.
//   - batch: Batch index, written by LayoutROI.
//   - out: The batch item's output slice.
//
// Returns:
//   - The number of records written.
//   - ErrRecordBuffer if out holds fewer than ItemSize values.
func (a Assembler) Assemble(detections []Result, removed []bool, batch int, out []float32) (int, error) {
	if len(out) < a.ItemSize() {
		return 0, errors.Wrapf(ErrRecordBuffer, "%s records: have %d values, need %d x %d",
			a.Layout, len(out), a.TopK, a.Layout.Width())
	}
	if len(removed) != len(detections) {
		return 0, errors.Errorf("suppression mask has %d entries for %d detections",
			len(removed), len(detections))
	}

	kept := Keep(detections, removed, a.TopK)
	width := a.Layout.Width()
	for i, r := range kept {
		a.Layout.pack(out[i*width:(i+1)*width], r, batch)
	}
	return len(kept), nil
}

// AssembleBatch suppresses and packs each batch item into consecutive
// ItemSize slices of out. The cap is evaluated independently per item.
//
// Returns:
//   - Records written per batch item.
func (a Assembler) AssembleBatch(items [][]Result, nms NMSConfig, out []float32) ([]int, error) {
	size := a.ItemSize()
	if len(out) < len(items)*size {
		return nil, errors.Wrapf(ErrRecordBuffer, "%d items need %d values, have %d",
			len(items), len(items)*size, len(out))
	}

	counts := make([]int, len(items))
	for b, dets := range items {
		n, err := a.Assemble(dets, nms.Apply(dets), b, out[b*size:(b+1)*size])
		if err != nil {
			return nil, errors.Wrapf(err, "batch item %d", b)
		}
		counts[b] = n
	}
	return counts, nil
}

// KeepBatch suppresses each batch item and keeps its first topK survivors.
func KeepBatch(items [][]Result, nms NMSConfig, topK int) [][]Result {
	out := make([][]Result, len(items))
	for b, dets := range items {
		out[b] = Keep(dets, nms.Apply(dets), topK)
	}
	return out
}

// CandidateCounts returns the number of candidates of each batch item.
func CandidateCounts(items [][]Result) []int {
	out := make([]int, len(items))
	for b, dets := range items {
		out[b] = len(dets)
	}
	return out
}
