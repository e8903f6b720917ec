package postprocess

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/geometry"
)

func TestFilterClassScoresOrder(t *testing.T) {
	n, classes := 2, 3
	boxes := make([]geometry.Box, n*classes)
	for i := range boxes {
		boxes[i] = geometry.Box{X1: float32(i)}
	}
	scores := []float32{
		0.99, 0.6, 0.7, // background score is ignored
		0.1, 0.5, 0.8,
	}

	dets, err := FilterClassScores(boxes, scores, n, classes, 0.5, true)
	require.NoError(t, err)
	require.Len(t, dets, 3)

	assert.Equal(t, Result{Box: boxes[1], Score: 0.6, Class: 1}, dets[0])
	assert.Equal(t, Result{Box: boxes[2], Score: 0.7, Class: 2}, dets[1])
	// 0.5 is not above the threshold.
	assert.Equal(t, Result{Box: boxes[5], Score: 0.8, Class: 2}, dets[2])
}

func TestFilterClassScoresWithBackground(t *testing.T) {
	dets, err := FilterClassScores(make([]geometry.Box, 2), []float32{0.9, 0.2}, 1, 2, 0.5, false)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 0, dets[0].Class)
}

func TestFilterClassScoresMismatch(t *testing.T) {
	_, err := FilterClassScores(make([]geometry.Box, 3), make([]float32, 4), 2, 2, 0.5, true)
	assert.True(t, errors.Is(err, ErrFilterInput))
}

func TestFilterGrid(t *testing.T) {
	// two anchors over a 2x2 grid
	scores := []float32{
		0.1, 0.9, 0.2, 0.6,
		0.7, 0.3, 0.5, 0.8,
	}
	hits, err := FilterGrid(scores, 2, 4, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []GridHit{
		{Index: 1, Anchor: 0, Location: 1, Score: 0.9},
		{Index: 3, Anchor: 0, Location: 3, Score: 0.6},
		{Index: 4, Anchor: 1, Location: 0, Score: 0.7},
		{Index: 7, Anchor: 1, Location: 3, Score: 0.8},
	}, hits)

	_, err = FilterGrid(scores[:7], 2, 4, 0.5)
	assert.True(t, errors.Is(err, ErrFilterInput))
}
