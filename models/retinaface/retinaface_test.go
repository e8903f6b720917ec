package retinaface

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/anchors"
	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

const untouched = float32(-1)

// maps holds the three zeroed tensors of one single-anchor level.
type maps struct {
	batch, h, w           int
	score, bbox, landmark []float32
}

func newMaps(batch, h, w int) *maps {
	count := h * w
	return &maps{
		batch: batch, h: h, w: w,
		score:    make([]float32, batch*2*count),
		bbox:     make([]float32, batch*4*count),
		landmark: make([]float32, batch*10*count),
	}
}

// face sets the foreground probability of location j in item b.
func (m *maps) face(b, j int, p float32) {
	count := m.h * m.w
	m.score[b*2*count+count+j] = p
}

func (m *maps) tensors() []tensor.Tensor {
	return []tensor.Tensor{
		tensor.New(tensor.WithShape(m.batch, 2, m.h, m.w), tensor.WithBacking(m.score)),
		tensor.New(tensor.WithShape(m.batch, 4, m.h, m.w), tensor.WithBacking(m.bbox)),
		tensor.New(tensor.WithShape(m.batch, 10, m.h, m.w), tensor.WithBacking(m.landmark)),
	}
}

// level10 yields the single anchor [0, 0, 9, 9] at the first location.
func level10(stride int) anchors.Level {
	return anchors.Level{Stride: stride, BaseSize: 10, Ratios: []float32{1}, Scales: []float32{1}}
}

func newDetector(t *testing.T, topK int, levels ...anchors.Level) *Detector {
	t.Helper()
	d, err := New(Config{
		NMS:                 postprocess.NMSConfig{IoUThreshold: 0.4},
		ConfidenceThreshold: 0.5,
		TopK:                topK,
		Levels:              levels,
	})
	require.NoError(t, err)
	return d
}

func output(d *Detector, batch int) []float32 {
	shape := d.OutputShape(batch)
	out := make([]float32, shape[0]*shape[1]*shape[2]*shape[3])
	for i := range out {
		out[i] = untouched
	}
	return out
}

func TestForwardSingleFace(t *testing.T) {
	d := newDetector(t, 5, level10(8))
	m := newMaps(1, 2, 2)
	m.face(0, 0, 0.9)

	out := output(d, 1)
	counts, err := d.Forward(m.tensors(), out)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, counts)

	want := []float32{0, 0, 10, 10, 0.9, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	assert.Equal(t, want, out[:15])
	assert.Equal(t, untouched, out[15])
}

func TestForwardLandmarkChannels(t *testing.T) {
	d := newDetector(t, 5, level10(8))
	m := newMaps(1, 1, 1)
	m.face(0, 0, 0.9)
	// point 2: x channel 4, y channel 5
	m.landmark[4] = 0.1
	m.landmark[5] = -0.2
	// dy moves the box one height down
	m.bbox[1] = 1

	results, err := d.Detect(m.tensors())
	require.NoError(t, err)
	require.Len(t, results[0], 1)

	r := results[0][0]
	assert.Equal(t, FaceClass, r.Class)
	assert.Equal(t, geometry.Box{X1: 0, Y1: 10, X2: 10, Y2: 20}, r.Box)
	require.NotNil(t, r.Landmarks)
	assert.InDelta(t, 6, r.Landmarks[2].X, 1e-5)
	assert.InDelta(t, 3, r.Landmarks[2].Y, 1e-5)
	assert.Equal(t, geometry.Point{X: 5, Y: 5}, r.Landmarks[0])
}

func TestForwardShiftsAnchorsByStride(t *testing.T) {
	d := newDetector(t, 5, level10(8))
	m := newMaps(1, 2, 2)
	m.face(0, 3, 0.7)

	results, err := d.Detect(m.tensors())
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, geometry.Box{X1: 8, Y1: 8, X2: 18, Y2: 18}, results[0][0].Box)
}

func TestForwardThresholdIsExclusive(t *testing.T) {
	d := newDetector(t, 5, level10(8))
	m := newMaps(1, 2, 2)
	m.face(0, 0, 0.5)
	// background probability never counts
	m.score[1] = 0.99

	out := output(d, 1)
	counts, err := d.Forward(m.tensors(), out)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, counts)
	assert.Equal(t, output(d, 1), out)
}

func TestForwardLevelsInConfigOrder(t *testing.T) {
	d := newDetector(t, 5, level10(16), level10(8))
	coarse, fine := newMaps(1, 1, 1), newMaps(1, 2, 2)
	coarse.face(0, 0, 0.6)
	fine.face(0, 3, 0.95)

	results, err := d.Detect(append(coarse.tensors(), fine.tensors()...))
	require.NoError(t, err)
	require.Len(t, results[0], 2)
	assert.Equal(t, float32(0.6), results[0][0].Score)
	assert.Equal(t, float32(0.95), results[0][1].Score)
	assert.Equal(t, geometry.Box{X1: 8, Y1: 8, X2: 18, Y2: 18}, results[0][1].Box)
}

func TestForwardSuppressesOverlap(t *testing.T) {
	d := newDetector(t, 5, level10(16), level10(8))
	coarse, fine := newMaps(1, 1, 1), newMaps(1, 1, 1)
	coarse.face(0, 0, 0.6)
	fine.face(0, 0, 0.95)

	out := output(d, 1)
	counts, err := d.Forward(append(coarse.tensors(), fine.tensors()...), out)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, counts)
	assert.Equal(t, float32(0.95), out[4])
}

func TestForwardBatchCapIsPerItem(t *testing.T) {
	d := newDetector(t, 1, level10(8))
	m := newMaps(2, 2, 2)
	m.face(0, 0, 0.9)
	m.face(0, 3, 0.8)
	m.face(1, 3, 0.7)

	out := output(d, 2)
	counts, err := d.Forward(m.tensors(), out)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, counts)
	assert.Equal(t, float32(0.9), out[4])
	assert.Equal(t, []float32{8, 8, 18, 18, 0.7}, out[15:20])
	assert.Equal(t, 1, d.Config().TopK)
}

func TestForwardShapeMismatch(t *testing.T) {
	d := newDetector(t, 5, level10(8))
	out := output(d, 1)

	in := newMaps(1, 2, 2).tensors()
	_, err := d.Forward(in[:2], out)
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))

	in[2] = tensor.New(tensor.WithShape(1, 10, 1, 2), tensor.WithBacking(make([]float32, 20)))
	_, err = d.Forward(in, out)
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))

	in = newMaps(1, 2, 2).tensors()
	in[0] = tensor.New(tensor.WithShape(1, 4, 2, 2), tensor.WithBacking(make([]float32, 16)))
	_, err = d.Forward(in, out)
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))
}

func TestForwardRejectsLevelsOutOfStrideOrder(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	out := output(d, 1)

	// Default levels are stride 32, 16, 8: a 640 input gives 20, 40 and 80 cells.
	var in []tensor.Tensor
	for _, side := range []int{80, 40, 20} {
		in = append(in, pyramidLevel(side)...)
	}
	_, err = d.Forward(in, out)
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))

	in = nil
	for _, side := range []int{20, 40, 80} {
		in = append(in, pyramidLevel(side)...)
	}
	counts, err := d.Forward(in, out)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, counts)
}

func TestForwardAcceptsRoundedLevelSizes(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	// A 641 pixel input rounds up to 21, 41 and 81 cells.
	var in []tensor.Tensor
	for _, side := range []int{21, 41, 81} {
		in = append(in, pyramidLevel(side)...)
	}
	_, err = d.Forward(in, output(d, 1))
	assert.NoError(t, err)
}

// pyramidLevel returns zeroed tensors for a two-anchor level of side x side cells.
func pyramidLevel(side int) []tensor.Tensor {
	count := side * side
	return []tensor.Tensor{
		tensor.New(tensor.WithShape(1, 4, side, side), tensor.WithBacking(make([]float32, 4*count))),
		tensor.New(tensor.WithShape(1, 8, side, side), tensor.WithBacking(make([]float32, 8*count))),
		tensor.New(tensor.WithShape(1, 20, side, side), tensor.WithBacking(make([]float32, 20*count))),
	}
}

func TestForwardOutputTooSmall(t *testing.T) {
	d := newDetector(t, 5, level10(8))
	_, err := d.Forward(newMaps(1, 2, 2).tensors(), make([]float32, 10))
	assert.True(t, errors.Is(err, model.ErrOutputTooSmall))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Levels = nil
	_, err := New(cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.Levels[1].Scales = nil
	_, err = New(cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.ConfidenceThreshold = -0.1
	_, err = New(cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestDefaultConfig(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 50, 15}, d.OutputShape(1))
	assert.Equal(t, model.ModelNameRetinaFace, d.Name())

	for i, c := range d.caches {
		assert.Equal(t, 2, c.NumAnchors(), "level %d", i)
	}
}
