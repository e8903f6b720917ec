package onnx

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/models/frcn"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// fakeTensor stands in for an onnxruntime output without loading the library.
type fakeTensor struct {
	data  []float32
	shape ort.Shape
}

func (f *fakeTensor) GetData() []float32  { return f.data }
func (f *fakeTensor) GetShape() ort.Shape { return f.shape }

// fakeRunner writes fixed frcn outputs on every run.
type fakeRunner struct {
	runs   int
	err    error
	scores *fakeTensor
}

func (r *fakeRunner) Run() error {
	if r.err != nil {
		return r.err
	}
	r.runs++
	r.scores.data[1] = 0.9
	return nil
}

func TestFromORTSharesMemory(t *testing.T) {
	src := &fakeTensor{data: []float32{1, 2, 3, 4, 5, 6}, shape: ort.NewShape(2, 3)}
	out, err := FromORT(src)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, tensor.Shape{2, 3}, out[0].Shape())

	src.data[4] = 42
	v, err := out[0].At(1, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(42), v)
}

func TestFromORTRejectsBadOutputs(t *testing.T) {
	_, err := FromORT(&fakeTensor{data: []float32{1, 2}, shape: ort.NewShape(1, 3)})
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))

	_, err = FromORT(&fakeTensor{data: []float32{1}, shape: ort.NewShape(-1)})
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))

	_, err = FromORT(ORTTensor(nil))
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))

	var released *ort.Tensor[float32]
	assert.NotPanics(t, func() {
		_, err = FromORT(released)
	})
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))

	var fake *fakeTensor
	_, err = FromORT(&fakeTensor{data: []float32{1}, shape: ort.NewShape(1)}, fake)
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))
}

func TestPipelineFeedsDetector(t *testing.T) {
	det, err := frcn.New(frcn.Config{
		NMS:          postprocess.NMSConfig{IoUThreshold: 0.3},
		ObjThreshold: 0.5,
		TopK:         2,
		ClassNum:     2,
	})
	require.NoError(t, err)

	deltas := &fakeTensor{data: make([]float32, 8), shape: ort.NewShape(1, 8)}
	scores := &fakeTensor{data: make([]float32, 2), shape: ort.NewShape(1, 2)}
	rois := &fakeTensor{data: []float32{0, 0, 0, 9, 9}, shape: ort.NewShape(1, 5)}
	runner := &fakeRunner{scores: scores}

	p := NewPipeline(runner, []ORTTensor{deltas, scores, rois}, det)
	out := make([]float32, 2*6)
	counts, err := p.Forward(out)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, counts)
	assert.Equal(t, []float32{0, 0, 10, 10, 1, 0.9}, out[:6])

	results, err := p.Detect()
	require.NoError(t, err)
	require.Len(t, results[0], 1)

	assert.Equal(t, 2, runner.runs)
	assert.Equal(t, int64(2), p.Metrics().Runs)
}

func TestPipelineRunError(t *testing.T) {
	det, err := frcn.New(frcn.DefaultConfig())
	require.NoError(t, err)

	boom := errors.New("device lost")
	p := NewPipeline(&fakeRunner{err: boom}, nil, det)
	_, err = p.Forward(make([]float32, 600))
	assert.True(t, errors.Is(err, boom))
	assert.Zero(t, p.Metrics().Runs)
}

func TestOpenSessionValidatesConfig(t *testing.T) {
	det, err := frcn.New(frcn.DefaultConfig())
	require.NoError(t, err)

	_, err = OpenSession(SessionConfig{}, det)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))

	_, err = OpenSession(SessionConfig{
		ModelPath:    "frcn.onnx",
		InputName:    "data",
		InputShape:   []int64{1, 3, 600, 1000},
		OutputNames:  []string{"bbox_pred", "cls_prob", "rois"},
		OutputShapes: [][]int64{{300, 84}},
	}, det)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))

	_, err = OpenSession(SessionConfig{
		ModelPath:    "frcn.onnx",
		InputName:    "data",
		InputShape:   []int64{1, 3, 600, 1000},
		OutputNames:  []string{"rois"},
		OutputShapes: [][]int64{{300, 5}},
		Provider:     ProviderConfig{Backend: "tpu"},
	}, det)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestOpenVINOOptions(t *testing.T) {
	assert.Empty(t, ProviderConfig{Backend: BackendOpenVINO}.openVINOOptions())

	cfg := ProviderConfig{
		Backend:        BackendOpenVINO,
		DeviceType:     "GPU",
		Precision:      PrecisionFP16,
		IntraOpThreads: 4,
	}
	assert.Equal(t, map[string]string{
		"device_type":    "GPU",
		"precision":      "FP16",
		"num_of_threads": "4",
	}, cfg.openVINOOptions())
}

func TestSharedLibraryPath(t *testing.T) {
	path, err := SharedLibraryPath()
	if err != nil {
		assert.True(t, errors.Is(err, model.ErrUnsupported))
		return
	}
	assert.NotEmpty(t, path)
}
