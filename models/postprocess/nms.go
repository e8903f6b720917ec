// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-detect/geometry"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap above which the lower scoring box is removed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold" validate:"gte=0,lte=1"`
	// Sorted switches from the order-dependent pairwise scan to score-sorted
	// greedy NMS. The two produce different survivor sets on some inputs.
	Sorted bool `json:"sorted" yaml:"sorted"`
}

// Apply runs the suppressor selected by the configuration.
func (c NMSConfig) Apply(detections []Result) []bool {
	if c.Sorted {
		return SuppressSorted(detections, c.IoUThreshold)
	}
	return Suppress(detections, c.IoUThreshold)
}

// Suppress performs class-aware pairwise suppression in emission order.
//
// Every pair (i, j) with i < j is visited once, without sorting. Pairs where
// either side is already removed, or whose classes differ, are skipped. When
// the IoU of a pair is above the threshold the lower scoring detection is
// removed; on equal scores j is removed. Once i is removed the scan moves on
// to i+1, so which pairs get compared depends on earlier removals.
//
// Arguments:
//   - detections: Candidates in emission order. They are not modified.
//   - threshold: IoU above which two same-class detections overlap.
//
// Returns:
//   - A mask where removed[i] is true for suppressed detections.
func Suppress(detections []Result, threshold float32) []bool {
	n := len(detections)
	removed := make([]bool, n)

	for i := 0; i < n; i++ {
		if removed[i] {
			continue
		}
		for j := i + 1; j < n; j++ {
			if removed[j] {
				continue
			}
			if detections[i].Class != detections[j].Class {
				continue
			}
			if geometry.IoU(detections[i].Box, detections[j].Box) <= threshold {
				continue
			}
			if detections[i].Score < detections[j].Score {
				removed[i] = true
				break
			}
			removed[j] = true
		}
	}
	return removed
}

// SuppressSorted performs standard class-aware greedy Non-Maximum Suppression.
//
// Candidates are visited by descending score (stable, so equal scores keep
// emission order); each kept detection removes every later same-class
// detection overlapping it above the threshold.
//
// Arguments:
//   - detections: Candidates in emission order. They are not modified.
//   - threshold: IoU above which two same-class detections overlap.
//
// Returns:
//   - A mask aligned with detections where removed[i] is true for suppressed entries.
func SuppressSorted(detections []Result, threshold float32) []bool {
	n := len(detections)
	removed := make([]bool, n)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Score > detections[order[b]].Score
	})

	for oi, i := range order {
		if removed[i] {
			continue
		}
		anchor := detections[i]
		for _, j := range order[oi+1:] {
			if removed[j] || detections[j].Class != anchor.Class {
				continue
			}
			// Suppress if IoU exceeds threshold
			if geometry.IoU(anchor.Box, detections[j].Box) > threshold {
				removed[j] = true
			}
		}
	}
	return removed
}

// Survivors returns the detections not marked in removed, preserving order.
func Survivors(detections []Result, removed []bool) []Result {
	out := make([]Result, 0, len(detections))
	for i, d := range detections {
		if !removed[i] {
			out = append(out, d)
		}
	}
	return out
}
