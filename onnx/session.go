package onnx

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// Runner executes a network whose outputs are bound ahead of time.
// *ort.AdvancedSession satisfies it.
type Runner interface {
	Run() error
}

// Metrics are the accumulated timings of a Pipeline.
type Metrics struct {
	// Runs is the number of completed Forward calls.
	Runs int64
	// Network is the total time spent in the runner.
	Network time.Duration
	// PostProcess is the total time spent in the detector.
	PostProcess time.Duration
}

// Pipeline runs a network and feeds its bound outputs to a detection layer.
//
// Runs are serialized because the outputs are overwritten by every run.
type Pipeline struct {
	runner   Runner
	outputs  []ORTTensor
	detector model.Detector

	mu      sync.Mutex
	metrics Metrics
}

// NewPipeline binds a runner, the outputs it writes and a detector.
func NewPipeline(runner Runner, outputs []ORTTensor, detector model.Detector) *Pipeline {
	return &Pipeline{runner: runner, outputs: outputs, detector: detector}
}

// Forward runs the network and packs the detector records into out.
//
// Returns:
//   - Records written per batch item, as model.Detector.Forward.
func (p *Pipeline) Forward(out []float32) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	if err := p.runner.Run(); err != nil {
		return nil, errors.Wrap(err, "onnx: run session")
	}
	network := time.Since(start)

	inputs, err := FromORT(p.outputs...)
	if err != nil {
		return nil, err
	}
	counts, err := p.detector.Forward(inputs, out)
	if err != nil {
		return nil, err
	}

	p.record(start, network)
	return counts, nil
}

// Detect runs the network and returns typed detections per batch item.
func (p *Pipeline) Detect() ([][]postprocess.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	if err := p.runner.Run(); err != nil {
		return nil, errors.Wrap(err, "onnx: run session")
	}
	network := time.Since(start)

	inputs, err := FromORT(p.outputs...)
	if err != nil {
		return nil, err
	}
	results, err := p.detector.Detect(inputs)
	if err != nil {
		return nil, err
	}

	p.record(start, network)
	return results, nil
}

func (p *Pipeline) record(start time.Time, network time.Duration) {
	post := time.Since(start) - network
	p.metrics.Runs++
	p.metrics.Network += network
	p.metrics.PostProcess += post

	if log.Enabled(log.DebugLevel) {
		log.Debug(log.Fields{
			"variant":     p.detector.Name(),
			"network_ms":  float64(network.Microseconds()) / 1000,
			"postproc_ms": float64(post.Microseconds()) / 1000,
			"runs":        p.metrics.Runs,
		}, "pipeline run")
	}
}

// Metrics returns a snapshot of the accumulated timings.
func (p *Pipeline) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// SessionConfig describes an onnxruntime model with one float32 input.
type SessionConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path" validate:"required"`
	// InputName is the network input bound to Session.Input.
	InputName string `json:"input_name" yaml:"input_name" validate:"required"`
	// InputShape is the static input shape.
	InputShape []int64 `json:"input_shape" yaml:"input_shape" validate:"min=1,dive,gt=0"`
	// OutputNames lists the outputs in the order the detector expects them.
	OutputNames []string `json:"output_names" yaml:"output_names" validate:"min=1,dive,required"`
	// OutputShapes are the static output shapes, aligned with OutputNames.
	OutputShapes [][]int64 `json:"output_shapes" yaml:"output_shapes" validate:"min=1,dive,min=1,dive,gt=0"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// Provider selects threading and the execution provider.
	Provider ProviderConfig `json:"provider" yaml:"provider"`
}

// Session owns an onnxruntime session and the tensors bound to it.
type Session struct {
	*Pipeline

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

// OpenSession initializes onnxruntime if needed, allocates the bound tensors
// and creates a pipeline that feeds detector.
//
// Returns:
//   - model.ErrInvalidConfig if the configuration is rejected.
//   - The onnxruntime error if the library or the model cannot be loaded.
func OpenSession(cfg SessionConfig, detector model.Detector) (*Session, error) {
	if err := model.Validate("onnx", cfg); err != nil {
		return nil, err
	}
	if len(cfg.OutputShapes) != len(cfg.OutputNames) {
		return nil, errors.Wrapf(model.ErrInvalidConfig, "onnx: %d output shapes for %d outputs",
			len(cfg.OutputShapes), len(cfg.OutputNames))
	}
	if err := Initialize(cfg.LibraryPath); err != nil {
		return nil, err
	}

	s := &Session{}
	var err error
	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(cfg.InputShape...)); err != nil {
		return nil, errors.Wrap(err, "onnx: allocate input")
	}

	bound := make([]ort.Value, len(cfg.OutputShapes))
	readers := make([]ORTTensor, len(cfg.OutputShapes))
	for i, shape := range cfg.OutputShapes {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "onnx: allocate output %s", cfg.OutputNames[i])
		}
		s.outputs = append(s.outputs, t)
		bound[i], readers[i] = t, t
	}

	options, err := cfg.Provider.sessionOptions()
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	s.session, err = ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, cfg.OutputNames,
		[]ort.Value{s.input}, bound, options)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "onnx: open %s", cfg.ModelPath)
	}
	s.Pipeline = NewPipeline(s.session, readers, detector)

	log.Info(log.Fields{
		"model":   cfg.ModelPath,
		"variant": detector.Name(),
		"outputs": cfg.OutputNames,
		"backend": cfg.Provider.Backend,
	}, "onnx session opened")
	return s, nil
}

// Input returns the input buffer to fill before Forward or Detect.
func (s *Session) Input() []float32 {
	return s.input.GetData()
}

// Close releases the session and its tensors.
func (s *Session) Close() {
	if s.session != nil {
		_ = s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		_ = s.input.Destroy()
		s.input = nil
	}
	for _, t := range s.outputs {
		_ = t.Destroy()
	}
	s.outputs = nil
}
