// Package retinaface - multi-scale RetinaFace face detection head.
//
// Every pyramid level contributes three tensors: class probabilities
// [B, 2A, H, W] whose second half holds the face probability per anchor, box
// deltas [B, 4A, H, W] and landmark deltas [B, 10A, H, W] with interleaved
// (x, y) pairs per point. The head emits
// [x1, y1, x2, y2, score, x0, y0, ..., x4, y4] records.
package retinaface

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/anchors"
	"github.com/nvr-ai/go-detect/codec"
	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// FaceClass is the class index assigned to every face detection.
const FaceClass = 1

// tensorsPerLevel is the number of inputs each pyramid level contributes.
const tensorsPerLevel = 3

// Config is the configuration of the face detection head.
type Config struct {
	// NMS configures suppression.
	NMS postprocess.NMSConfig `json:"nms" yaml:"nms"`
	// ConfidenceThreshold is the minimum face probability, exclusive.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	// TopK caps the records written per image.
	TopK int `json:"keep_topk" yaml:"keep_topk" validate:"gt=0"`
	// Levels are the pyramid levels in input order.
	Levels []anchors.Level `json:"levels" yaml:"levels" validate:"min=1,dive"`
}

// DefaultConfig returns the settings of the three-level RetinaFace model.
func DefaultConfig() Config {
	return Config{
		NMS:                 postprocess.NMSConfig{IoUThreshold: 0.4},
		ConfidenceThreshold: 0.8,
		TopK:                50,
		Levels:              anchors.DefaultRetinaFacePyramid(),
	}
}

// Detector is a configured RetinaFace head.
type Detector struct {
	cfg       Config
	caches    []*anchors.Cache
	assembler postprocess.Assembler
}

// New validates the configuration, builds the anchor templates and creates
// the detector.
//
// Returns:
//   - model.ErrInvalidConfig if the configuration is rejected or a level
//     template cannot be built.
func New(cfg Config) (*Detector, error) {
	if err := model.Validate(model.ModelNameRetinaFace, cfg); err != nil {
		return nil, err
	}

	caches := make([]*anchors.Cache, len(cfg.Levels))
	for i, l := range cfg.Levels {
		c, err := anchors.NewLevelCache(l)
		if err != nil {
			return nil, errors.Wrapf(model.ErrInvalidConfig, "retinaface: level %d: %v", i, err)
		}
		caches[i] = c
	}

	strides := make([]int, len(cfg.Levels))
	for i, l := range cfg.Levels {
		strides[i] = l.Stride
	}
	log.Info(log.Fields{
		"variant":              model.ModelNameRetinaFace,
		"iou_threshold":        cfg.NMS.IoUThreshold,
		"confidence_threshold": cfg.ConfidenceThreshold,
		"keep_topk":            cfg.TopK,
		"strides":              strides,
	}, "detection layer configured")

	return &Detector{
		cfg:       cfg,
		caches:    caches,
		assembler: postprocess.Assembler{Layout: postprocess.LayoutLandmarks, TopK: cfg.TopK},
	}, nil
}

// Name returns model.ModelNameRetinaFace.
func (d *Detector) Name() model.Name { return model.ModelNameRetinaFace }

// Config returns a copy of the configuration.
func (d *Detector) Config() Config { return d.cfg }

// OutputShape returns [batch, 1, TopK, 15].
func (d *Detector) OutputShape(batch int) []int {
	return []int{batch, 1, d.cfg.TopK, d.assembler.Layout.Width()}
}

// Forward decodes faces on every level and packs landmark records.
//
// Arguments:
//   - inputs: score, bbox and landmark tensors for level 0, then level 1, and
//     so on, in Config.Levels order.
//   - out: Output buffer of at least OutputShape(B) values.
//
// Returns:
//   - Records written per batch item.
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

// Detect runs the same pipeline as Forward and returns at most TopK faces per
// batch item, landmarks included.
func (d *Detector) Detect(inputs []tensor.Tensor) ([][]postprocess.Result, error) {
	items, err := d.candidates(inputs)
	if err != nil {
		return nil, err
	}
	return postprocess.KeepBatch(items, d.cfg.NMS, d.cfg.TopK), nil
}

// level holds the validated tensors of one pyramid level.
type level struct {
	score, bbox, landmark []float32
	height, width         int
	numAnchors            int
	cache                 *anchors.Cache
	stride                int
}

func (d *Detector) levels(inputs []tensor.Tensor) ([]level, int, error) {
	if err := model.CheckInputs(d.Name(), inputs, tensorsPerLevel*len(d.cfg.Levels)); err != nil {
		return nil, 0, err
	}

	batch := -1
	out := make([]level, len(d.cfg.Levels))
	for i, cfg := range d.cfg.Levels {
		a := d.caches[i].NumAnchors()
		names := [tensorsPerLevel]string{
			fmt.Sprintf("stride%d/score", cfg.Stride),
			fmt.Sprintf("stride%d/bbox", cfg.Stride),
			fmt.Sprintf("stride%d/landmark", cfg.Stride),
		}
		in := inputs[i*tensorsPerLevel : (i+1)*tensorsPerLevel]

		shape, err := model.CheckShape(names[0], in[0], batch, 2*a, -1, -1)
		if err != nil {
			return nil, 0, err
		}
		batch = shape[0]
		h, w := shape[2], shape[3]
		if _, err := model.CheckShape(names[1], in[1], batch, 4*a, h, w); err != nil {
			return nil, 0, err
		}
		if _, err := model.CheckShape(names[2], in[2], batch, 2*codec.NumLandmarks*a, h, w); err != nil {
			return nil, 0, err
		}

		lv := level{height: h, width: w, numAnchors: a, cache: d.caches[i], stride: cfg.Stride}
		if lv.score, err = model.Float32Data(names[0], in[0]); err != nil {
			return nil, 0, err
		}
		if lv.bbox, err = model.Float32Data(names[1], in[1]); err != nil {
			return nil, 0, err
		}
		if lv.landmark, err = model.Float32Data(names[2], in[2]); err != nil {
			return nil, 0, err
		}
		out[i] = lv
	}
	if err := checkStrides(out); err != nil {
		return nil, 0, err
	}
	return out, batch, nil
}

// checkStrides verifies that every level maps back to a common input size.
// A map of h cells at stride s covers an input of ((h-1)*s, h*s] pixels.
func checkStrides(levels []level) error {
	for _, dim := range []struct {
		name string
		size func(level) int
	}{
		{"height", func(l level) int { return l.height }},
		{"width", func(l level) int { return l.width }},
	} {
		lo, hi := 0, math.MaxInt
		for _, l := range levels {
			n := dim.size(l)
			lo = max(lo, (n-1)*l.stride+1)
			hi = min(hi, n*l.stride)
		}
		if lo > hi {
			shapes := make([]string, len(levels))
			for i, l := range levels {
				shapes[i] = fmt.Sprintf("stride%d:%dx%d", l.stride, l.height, l.width)
			}
			return errors.Wrapf(model.ErrShapeMismatch, "retinaface: level %s disagrees with strides (%s)",
				dim.name, strings.Join(shapes, " "))
		}
	}
	return nil
}

// candidates returns the thresholded, unsuppressed faces of each batch item.
func (d *Detector) candidates(inputs []tensor.Tensor) ([][]postprocess.Result, error) {
	levels, batch, err := d.levels(inputs)
	if err != nil {
		return nil, err
	}

	items := make([][]postprocess.Result, batch)
	for b := 0; b < batch; b++ {
		for _, lv := range levels {
			faces, err := d.decodeLevel(lv, b)
			if err != nil {
				return nil, err
			}
			items[b] = append(items[b], faces...)
		}
	}
	return items, nil
}

// decodeLevel emits the faces of one level of one batch item, anchor-major
// and location-minor.
func (d *Detector) decodeLevel(lv level, b int) ([]postprocess.Result, error) {
	count := lv.height * lv.width
	a := lv.numAnchors

	score := lv.score[b*2*a*count : (b+1)*2*a*count]
	bbox := lv.bbox[b*4*a*count : (b+1)*4*a*count]
	landmark := lv.landmark[b*10*a*count : (b+1)*10*a*count]

	// The first half of the score channels is background.
	hits, err := postprocess.FilterGrid(score[a*count:], a, count, d.cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	plane := lv.cache.Plane(lv.height, lv.width, lv.stride)
	out := make([]postprocess.Result, 0, len(hits))
	for _, hit := range hits {
		j, num := hit.Location, hit.Anchor
		anchor := plane[hit.Index]

		var delta [4]float32
		for k := range delta {
			delta[k] = bbox[j+count*(k+num*4)]
		}

		var lmDelta [2 * codec.NumLandmarks]float32
		for k := 0; k < codec.NumLandmarks; k++ {
			lmDelta[k] = landmark[j+count*(num*10+k*2)]
			lmDelta[k+codec.NumLandmarks] = landmark[j+count*(num*10+k*2+1)]
		}
		points := codec.DecodeLandmarks(anchor, lmDelta)

		out = append(out, postprocess.Result{
			Box:       codec.DecodeBox(anchor, delta),
			Score:     hit.Score,
			Class:     FaceClass,
			Landmarks: &points,
		})
	}
	return out, nil
}
