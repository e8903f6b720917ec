package proposal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/models/frcn"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

const untouched = float32(-1)

// testConfig uses the single anchor [0, 0, 9, 9] on a 20x20 input.
func testConfig(stride, postTopN int) Config {
	return Config{
		NMS:            postprocess.NMSConfig{IoUThreshold: 0.7, Sorted: true},
		FeatStride:     stride,
		AnchorBaseSize: 10,
		AnchorRatios:   []float32{1},
		AnchorScales:   []float32{1},
		ObjThreshold:   0.5,
		PostTopN:       postTopN,
		InputWidth:     20,
		InputHeight:    20,
	}
}

func newLayer(t *testing.T, cfg Config) *Layer {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

// rpn builds [batch, 2, h, w] scores and [batch, 4, h, w] zero deltas.
func rpn(batch, h, w int, fg map[[2]int]float32) ([]tensor.Tensor, []float32) {
	count := h * w
	scores := make([]float32, batch*2*count)
	for k, p := range fg {
		scores[k[0]*2*count+count+k[1]] = p
	}
	deltas := make([]float32, batch*4*count)
	return []tensor.Tensor{
		tensor.New(tensor.WithShape(batch, 2, h, w), tensor.WithBacking(scores)),
		tensor.New(tensor.WithShape(batch, 4, h, w), tensor.WithBacking(deltas)),
	}, deltas
}

func output(l *Layer, batch int) []float32 {
	shape := l.OutputShape(batch)
	out := make([]float32, shape[0]*shape[1]*shape[2]*shape[3])
	for i := range out {
		out[i] = untouched
	}
	return out
}

func TestForwardOrdersByObjectness(t *testing.T) {
	l := newLayer(t, testConfig(8, 4))
	in, _ := rpn(1, 2, 2, map[[2]int]float32{{0, 0}: 0.6, {0, 3}: 0.9})

	out := output(l, 1)
	counts, err := l.Forward(in, out)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, counts)

	want := []float32{0, 8, 8, 18, 18, 0, 0, 0, 10, 10}
	if diff := cmp.Diff(want, out[:10]); diff != "" {
		t.Errorf("rois mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, untouched, out[10])
}

func TestForwardClipsToInput(t *testing.T) {
	l := newLayer(t, testConfig(8, 4))
	in, deltas := rpn(1, 2, 2, map[[2]int]float32{{0, 3}: 0.9})
	// dw = 1 at location 3 widens the box past both image edges.
	deltas[2*4+3] = 1

	results, err := l.Detect(in)
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	b := results[0][0].Box
	assert.Equal(t, float32(0), b.X1)
	assert.Equal(t, float32(19), b.X2)
	assert.Equal(t, float32(8), b.Y1)
	assert.Equal(t, float32(18), b.Y2)
}

func TestForwardSuppressesOverlap(t *testing.T) {
	l := newLayer(t, testConfig(1, 4))
	// [0,0,10,10] and [1,0,11,10] overlap with IoU 90/110.
	in, _ := rpn(1, 2, 2, map[[2]int]float32{{0, 0}: 0.6, {0, 1}: 0.8})

	results, err := l.Detect(in)
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, float32(0.8), results[0][0].Score)
	assert.Equal(t, float32(1), results[0][0].Box.X1)
}

func TestForwardPostTopNPerItem(t *testing.T) {
	l := newLayer(t, testConfig(8, 1))
	in, _ := rpn(2, 2, 2, map[[2]int]float32{{0, 0}: 0.6, {0, 3}: 0.9, {1, 0}: 0.7})

	out := output(l, 2)
	counts, err := l.Forward(in, out)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, counts)
	assert.Equal(t, []float32{0, 8, 8, 18, 18}, out[:5])
	assert.Equal(t, []float32{1, 0, 0, 10, 10}, out[5:10])
}

func TestROIsFeedFRCN(t *testing.T) {
	l := newLayer(t, testConfig(8, 4))
	in, _ := rpn(2, 2, 2, map[[2]int]float32{{0, 0}: 0.6, {1, 3}: 0.9})

	props, err := l.Detect(in)
	require.NoError(t, err)
	rois := ROIs(props)
	require.Equal(t, tensor.Shape{2, 5}, rois.Shape())
	assert.Equal(t, []float32{0, 0, 0, 10, 10, 1, 8, 8, 18, 18}, rois.Data())

	head, err := frcn.New(frcn.Config{
		NMS:          postprocess.NMSConfig{IoUThreshold: 0.3},
		ObjThreshold: 0.5,
		TopK:         2,
		ClassNum:     2,
	})
	require.NoError(t, err)

	scores := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{0.1, 0.9, 0.2, 0.8}))
	deltas := tensor.New(tensor.WithShape(2, 8), tensor.WithBacking(make([]float32, 16)))
	dets, err := head.Detect([]tensor.Tensor{deltas, scores, rois})
	require.NoError(t, err)
	require.Len(t, dets, 2)
	require.Len(t, dets[1], 1)
	assert.Equal(t, float32(0.8), dets[1][0].Score)
}

func TestForwardShapeMismatch(t *testing.T) {
	l := newLayer(t, testConfig(8, 4))
	out := output(l, 1)

	in, _ := rpn(1, 2, 2, nil)
	_, err := l.Forward(in[:1], out)
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))

	in[InputDeltas] = tensor.New(tensor.WithShape(1, 4, 2, 3), tensor.WithBacking(make([]float32, 24)))
	_, err = l.Forward(in, out)
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))
	assert.Equal(t, output(l, 1), out)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnchorScales = nil
	_, err := New(cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.PostTopN = 0
	_, err = New(cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestDefaultConfig(t *testing.T) {
	l, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 300, 5}, l.OutputShape(1))
	assert.Equal(t, 9, l.cache.NumAnchors())
}
