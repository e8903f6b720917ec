// Package frcn - Faster R-CNN second stage detection head.
//
// The head receives per-proposal class scores, class specific regression
// deltas and the proposals themselves, and emits [x1, y1, x2, y2, class, score]
// records. Class 0 is background and never produces a detection.
package frcn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/codec"
	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// Input positions expected by Forward.
const (
	InputDeltas = iota
	InputScores
	InputROIs
	numInputs
)

// roiWidth is the number of values per proposal row: batch index then corners.
const roiWidth = 5

// Config is the configuration of the detection head.
type Config struct {
	// NMS configures suppression.
	NMS postprocess.NMSConfig `json:"nms" yaml:"nms"`
	// ObjThreshold is the minimum class score, exclusive.
	ObjThreshold float32 `json:"obj_threshold" yaml:"obj_threshold" validate:"gte=0,lte=1"`
	// TopK caps the records written per image.
	TopK int `json:"keep_topk" yaml:"keep_topk" validate:"gt=0"`
	// ClassNum is the number of classes including background.
	ClassNum int `json:"class_num" yaml:"class_num" validate:"gt=1"`
}

// DefaultConfig returns the settings of the Pascal VOC Faster R-CNN model.
func DefaultConfig() Config {
	return Config{
		NMS:          postprocess.NMSConfig{IoUThreshold: 0.3},
		ObjThreshold: 0.5,
		TopK:         100,
		ClassNum:     21,
	}
}

// Detector is a configured Faster R-CNN detection head.
type Detector struct {
	cfg       Config
	assembler postprocess.Assembler
}

// New validates the configuration and creates the detector.
//
// Arguments:
//   - cfg: The head configuration.
//
// Returns:
//   - The detector.
//   - model.ErrInvalidConfig if the configuration is rejected.
func New(cfg Config) (*Detector, error) {
	if err := model.Validate(model.ModelNameFRCN, cfg); err != nil {
		return nil, err
	}

	log.Info(log.Fields{
		"variant":       model.ModelNameFRCN,
		"iou_threshold": cfg.NMS.IoUThreshold,
		"obj_threshold": cfg.ObjThreshold,
		"keep_topk":     cfg.TopK,
		"class_num":     cfg.ClassNum,
	}, "detection layer configured")

	return &Detector{
		cfg:       cfg,
		assembler: postprocess.Assembler{Layout: postprocess.LayoutCorner, TopK: cfg.TopK},
	}, nil
}

// Name returns model.ModelNameFRCN.
func (d *Detector) Name() model.Name { return model.ModelNameFRCN }

// Config returns a copy of the configuration.
func (d *Detector) Config() Config { return d.cfg }

// OutputShape returns [batch, 1, TopK, 6].
func (d *Detector) OutputShape(batch int) []int {
	return []int{batch, 1, d.cfg.TopK, d.assembler.Layout.Width()}
}

// Forward decodes, filters, suppresses and packs detections for every image
// referenced by the proposals.
//
// Arguments:
//   - inputs: deltas [N, ClassNum*4], scores [N, ClassNum], rois [N, 5] where
//     column 0 of rois is the batch index.
//   - out: Output buffer of at least OutputShape(batch) values, batch being one
//     more than the largest batch index.
//
// Returns:
//   - Records written per batch item.
//   - model.ErrShapeMismatch or model.ErrOutputTooSmall before anything is written.
func (d *Detector) Forward(inputs []tensor.Tensor, out []float32) ([]int, error) {
	items, err := d.candidates(inputs)
	if err != nil {
		return nil, err
	}
	if err := model.CheckOutput(d.Name(), out, d.OutputShape(len(items))); err != nil {
		return nil, err
	}

	counts, err := d.assembler.AssembleBatch(items, d.cfg.NMS, out)
	if err != nil {
		return nil, err
	}
	if log.Enabled(log.DebugLevel) {
		log.Debug(log.Fields{
			"variant":    d.Name(),
			"candidates": postprocess.CandidateCounts(items),
			"written":    counts,
		}, "forward")
	}
	return counts, nil
}

// Detect runs the same pipeline as Forward and returns at most TopK results
// per batch item.
func (d *Detector) Detect(inputs []tensor.Tensor) ([][]postprocess.Result, error) {
	items, err := d.candidates(inputs)
	if err != nil {
		return nil, err
	}
	return postprocess.KeepBatch(items, d.cfg.NMS, d.cfg.TopK), nil
}

// candidates validates the inputs and returns the filtered, unsuppressed
// detections of each batch item.
func (d *Detector) candidates(inputs []tensor.Tensor) ([][]postprocess.Result, error) {
	if err := model.CheckInputs(d.Name(), inputs, numInputs); err != nil {
		return nil, err
	}

	classes := d.cfg.ClassNum
	shape, err := model.CheckShape("rois", inputs[InputROIs], -1, roiWidth)
	if err != nil {
		return nil, err
	}
	n := shape[0]
	if _, err := model.CheckShape("deltas", inputs[InputDeltas], n, classes*4); err != nil {
		return nil, err
	}
	if _, err := model.CheckShape("scores", inputs[InputScores], n, classes); err != nil {
		return nil, err
	}

	deltas, err := model.Float32Data("deltas", inputs[InputDeltas])
	if err != nil {
		return nil, err
	}
	scores, err := model.Float32Data("scores", inputs[InputScores])
	if err != nil {
		return nil, err
	}
	rois, err := model.Float32Data("rois", inputs[InputROIs])
	if err != nil {
		return nil, err
	}

	groups, err := groupByBatch(rois, n)
	if err != nil {
		return nil, err
	}

	items := make([][]postprocess.Result, len(groups))
	for b, idx := range groups {
		boxes := make([]geometry.Box, len(idx))
		itemDeltas := make([]float32, 0, len(idx)*classes*4)
		itemScores := make([]float32, 0, len(idx)*classes)
		for k, i := range idx {
			r := rois[i*roiWidth : (i+1)*roiWidth]
			boxes[k] = geometry.Box{X1: r[1], Y1: r[2], X2: r[3], Y2: r[4]}
			itemDeltas = append(itemDeltas, deltas[i*classes*4:(i+1)*classes*4]...)
			itemScores = append(itemScores, scores[i*classes:(i+1)*classes]...)
		}

		decoded, err := codec.DecodeClassBoxes(boxes, itemDeltas, classes)
		if err != nil {
			return nil, err
		}
		items[b], err = postprocess.FilterClassScores(decoded, itemScores, len(idx), classes,
			d.cfg.ObjThreshold, true)
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

// groupByBatch returns proposal indices per batch item, in proposal order.
// There is always at least one item.
func groupByBatch(rois []float32, n int) ([][]int, error) {
	batches := 1
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		v := rois[i*roiWidth]
		// A batch cannot hold more items than there are proposals.
		if !(v >= 0 && v < float32(n)) || float32(int(v)) != v {
			return nil, errors.Wrapf(model.ErrShapeMismatch, "rois: row %d has batch index %v of %d proposals", i, v, n)
		}
		id := int(v)
		ids[i] = id
		batches = max(batches, id+1)
	}

	groups := make([][]int, batches)
	for i, id := range ids {
		groups[id] = append(groups[id], i)
	}
	return groups, nil
}
