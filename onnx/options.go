package onnx

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-detect/models/model"
)

// Backend selects the onnxruntime execution provider.
type Backend string

const (
	// BackendCPU uses the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCoreML appends the CoreML provider.
	BackendCoreML Backend = "coreml"
	// BackendOpenVINO appends the OpenVINO provider.
	BackendOpenVINO Backend = "openvino"
)

// Precision is the OpenVINO inference precision.
//
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type Precision string

const (
	// PrecisionAccuracy keeps the model's own precision.
	PrecisionAccuracy Precision = "ACCURACY"
	// PrecisionFP32 represents 32-bit floating point precision.
	PrecisionFP32 Precision = "FP32"
	// PrecisionFP16 represents 16-bit floating point precision.
	PrecisionFP16 Precision = "FP16"
)

// ProviderConfig configures session threading and the execution provider.
type ProviderConfig struct {
	// Backend is the execution provider; empty means cpu.
	Backend Backend `json:"backend" yaml:"backend" validate:"omitempty,oneof=cpu coreml openvino"`
	// DeviceType is the OpenVINO device, for example CPU or GPU.
	DeviceType string `json:"device_type" yaml:"device_type"`
	// Precision is the OpenVINO precision.
	Precision Precision `json:"precision" yaml:"precision" validate:"omitempty,oneof=ACCURACY FP32 FP16"`
	// IntraOpThreads bounds threads inside a node; 0 lets onnxruntime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads" validate:"gte=0"`
	// InterOpThreads bounds threads across nodes; 0 lets onnxruntime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads" validate:"gte=0"`
}

// openVINOOptions returns the provider options map for OpenVINO.
func (c ProviderConfig) openVINOOptions() map[string]string {
	opts := map[string]string{}
	if c.DeviceType != "" {
		opts["device_type"] = c.DeviceType
	}
	if c.Precision != "" {
		opts["precision"] = string(c.Precision)
	}
	if c.IntraOpThreads > 0 {
		opts["num_of_threads"] = strconv.Itoa(c.IntraOpThreads)
	}
	return opts
}

// sessionOptions builds the onnxruntime options. The caller destroys them.
func (c ProviderConfig) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "onnx: session options")
	}
	if err := options.SetIntraOpNumThreads(c.IntraOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "onnx: intra-op threads")
	}
	if err := options.SetInterOpNumThreads(c.InterOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "onnx: inter-op threads")
	}

	switch c.Backend {
	case "", BackendCPU:
	case BackendCoreML:
		err = options.AppendExecutionProviderCoreML(0)
	case BackendOpenVINO:
		err = options.AppendExecutionProviderOpenVINO(c.openVINOOptions())
	default:
		err = errors.Wrapf(model.ErrUnsupported, "backend %q", c.Backend)
	}
	if err != nil {
		options.Destroy()
		return nil, errors.Wrapf(err, "onnx: enable %s", c.Backend)
	}
	return options, nil
}
