package onnx

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-detect/models/model"
)

var initMu sync.Mutex

// SharedLibraryPath returns the default onnxruntime library location for the
// running platform.
func SharedLibraryPath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "third_party/onnxruntime.dll", nil
		}
	case "darwin":
		switch runtime.GOARCH {
		case "arm64":
			return "third_party/onnxruntime_arm64.dylib", nil
		case "amd64":
			return "third_party/onnxruntime_amd64.dylib", nil
		}
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so", nil
		}
		return "third_party/onnxruntime.so", nil
	}
	return "", errors.Wrapf(model.ErrUnsupported, "onnx: no runtime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// Initialize loads the onnxruntime environment once per process.
//
// Arguments:
//   - path: Shared library path, or empty for SharedLibraryPath.
func Initialize(path string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if path == "" {
		var err error
		if path, err = SharedLibraryPath(); err != nil {
			return err
		}
	}
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(err, "onnx: initialize runtime from %s", path)
	}
	return nil
}
