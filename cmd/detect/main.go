// Command detect runs one detection layer over a JSON dump of network
// outputs, or a directory of frame-<n>.json dumps, and prints the packed
// records as JSON lines.
package main

import (
	"flag"
	"os"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/util"
)

func main() {
	var (
		configPath string
		inputPath  string
		logFile    string
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "layer.yaml", "Layer configuration (.yaml, .yml or .json)")
	flag.StringVar(&inputPath, "input", "", "JSON tensor dump, or directory of frame-<n>.json dumps")
	flag.StringVar(&logFile, "log-file", "", "Also write logs to this rotating file")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Parse()

	if logFile != "" {
		log.SetOutput(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(configPath, inputPath); err != nil {
		log.Error(log.Fields{"config": configPath, "input": inputPath, "error": err.Error()}, "detect failed")
		os.Exit(1)
	}
}

func run(configPath, inputPath string) error {
	trace := log.WithTrace(uuid.NewString())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	det, err := models.NewModel(cfg)
	if err != nil {
		return err
	}
	labels, err := models.LabelsFor(det.Name())
	if err != nil {
		return err
	}

	if inputPath == "" {
		return errors.New("-input is required")
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return errors.Wrap(err, "stat input")
	}

	dumps := []util.DumpFile{{Path: inputPath}}
	if info.IsDir() {
		if dumps, err = util.LoadDirectoryDumpFiles(inputPath); err != nil {
			return err
		}
	}

	enc := jsoniter.NewEncoder(os.Stdout)
	for _, dump := range dumps {
		recs, err := detectDump(det, labels, dump.Path)
		if err != nil {
			return errors.Wrapf(err, "frame %d", dump.Frame)
		}
		trace.WithFields(logrus.Fields{"variant": det.Name(), "frame": dump.Frame, "records": len(recs)}).
			Debug("forward complete")
		for _, rec := range recs {
			rec.Frame = dump.Frame
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
	}
	trace.WithFields(logrus.Fields{"variant": det.Name(), "dumps": len(dumps)}).Info("detect complete")
	return nil
}

// detectDump runs the detector over one tensor dump file.
func detectDump(det model.Detector, labels *models.LabelSet, path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	defer f.Close()

	inputs, err := ReadDump(f)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.Errorf("%s holds no tensors", path)
	}

	shape := det.OutputShape(inputs[0].Shape()[0])
	if det.Name() == model.ModelNameFRCN {
		// frcn rows carry their batch index; size the buffer after the run.
		results, err := det.Detect(inputs)
		if err != nil {
			return nil, err
		}
		shape = det.OutputShape(len(results))
	}

	out := make([]float32, shape[0]*shape[1]*shape[2]*shape[3])
	counts, err := det.Forward(inputs, out)
	if err != nil {
		return nil, err
	}
	return Records(out, shape, counts, classLabel(det.Name(), labels)), nil
}

// classLabel reads the class column of layouts that carry one.
func classLabel(name model.Name, labels *models.LabelSet) labeler {
	switch name {
	case model.ModelNameFRCN, model.ModelNameYOLO:
		return func(v []float32) string {
			s, _ := labels.Name(int(v[4]))
			return s
		}
	case model.ModelNameRetinaFace:
		return func([]float32) string { return "face" }
	default:
		return nil
	}
}
