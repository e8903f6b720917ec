// Package proposal - region proposal layer for two-stage detectors.
//
// The layer turns RPN objectness [B, 2A, H, W] and box deltas [B, 4A, H, W]
// into at most PostTopN proposals per image, written as
// [batch, x1, y1, x2, y2] rows that the frcn head consumes as its rois input.
package proposal

import (
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/anchors"
	"github.com/nvr-ai/go-detect/codec"
	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// Input positions expected by Forward.
const (
	InputScores = iota
	InputDeltas
	numInputs
)

// Config is the configuration of the proposal layer.
type Config struct {
	// NMS configures suppression. Proposals are visited by descending score,
	// so Sorted is the conventional choice.
	NMS postprocess.NMSConfig `json:"nms" yaml:"nms"`
	// FeatStride is the input pixel spacing of the feature map cells.
	FeatStride int `json:"feat_stride" yaml:"feat_stride" validate:"gt=0"`
	// AnchorBaseSize is the side of the reference square anchor.
	AnchorBaseSize float32 `json:"anchor_base_size" yaml:"anchor_base_size" validate:"gt=0"`
	// AnchorRatios are the anchor aspect ratios.
	AnchorRatios []float32 `json:"anchor_ratios" yaml:"anchor_ratios" validate:"min=1,dive,gt=0"`
	// AnchorScales are the anchor scale multipliers.
	AnchorScales []float32 `json:"anchor_scales" yaml:"anchor_scales" validate:"min=1,dive,gt=0"`
	// ObjThreshold is the minimum objectness, exclusive.
	ObjThreshold float32 `json:"rpn_obj_threshold" yaml:"rpn_obj_threshold" validate:"gte=0,lte=1"`
	// PostTopN caps the proposals kept per image after suppression.
	PostTopN int `json:"rpn_nms_post_top_n" yaml:"rpn_nms_post_top_n" validate:"gt=0"`
	// InputWidth is the network input width that proposals are clipped to.
	InputWidth int `json:"input_w" yaml:"input_w" validate:"gt=0"`
	// InputHeight is the network input height that proposals are clipped to.
	InputHeight int `json:"input_h" yaml:"input_h" validate:"gt=0"`
}

// DefaultConfig returns the settings of the VGG16 Faster R-CNN RPN.
func DefaultConfig() Config {
	return Config{
		NMS:            postprocess.NMSConfig{IoUThreshold: 0.7, Sorted: true},
		FeatStride:     16,
		AnchorBaseSize: 16,
		AnchorRatios:   []float32{0.5, 1, 2},
		AnchorScales:   []float32{8, 16, 32},
		ObjThreshold:   0.5,
		PostTopN:       300,
		InputWidth:     1000,
		InputHeight:    600,
	}
}

// Layer is a configured proposal layer.
type Layer struct {
	cfg       Config
	cache     *anchors.Cache
	assembler postprocess.Assembler
}

// New validates the configuration, builds the anchor template and creates
// the layer.
//
// Returns:
//   - model.ErrInvalidConfig if the configuration is rejected.
func New(cfg Config) (*Layer, error) {
	if err := model.Validate(model.ModelNameProposal, cfg); err != nil {
		return nil, err
	}
	cache, err := anchors.NewCache(cfg.AnchorBaseSize, cfg.AnchorRatios, cfg.AnchorScales)
	if err != nil {
		return nil, errors.Wrapf(model.ErrInvalidConfig, "proposal: %v", err)
	}

	log.Info(log.Fields{
		"variant":       model.ModelNameProposal,
		"iou_threshold": cfg.NMS.IoUThreshold,
		"sorted":        cfg.NMS.Sorted,
		"obj_threshold": cfg.ObjThreshold,
		"post_top_n":    cfg.PostTopN,
		"feat_stride":   cfg.FeatStride,
		"anchors":       cache.NumAnchors(),
		"input_w":       cfg.InputWidth,
		"input_h":       cfg.InputHeight,
	}, "detection layer configured")

	return &Layer{
		cfg:       cfg,
		cache:     cache,
		assembler: postprocess.Assembler{Layout: postprocess.LayoutROI, TopK: cfg.PostTopN},
	}, nil
}

// Name returns model.ModelNameProposal.
func (l *Layer) Name() model.Name { return model.ModelNameProposal }

// Config returns a copy of the configuration.
func (l *Layer) Config() Config { return l.cfg }

// OutputShape returns [batch, 1, PostTopN, 5].
func (l *Layer) OutputShape(batch int) []int {
	return []int{batch, 1, l.cfg.PostTopN, l.assembler.Layout.Width()}
}

// Forward generates, suppresses and packs proposals for every image.
//
// Arguments:
//   - inputs: scores [B, 2A, H, W] with background in the first A channels,
//     deltas [B, 4A, H, W].
//   - out: Output buffer of at least OutputShape(B) values.
//
// Returns:
//   - Proposals written per batch item, highest objectness first.
func (l *Layer) Forward(inputs []tensor.Tensor, out []float32) ([]int, error) {
	items, err := l.candidates(inputs)
	if err != nil {
		return nil, err
	}
	if err := model.CheckOutput(l.Name(), out, l.OutputShape(len(items))); err != nil {
		return nil, err
	}

	counts, err := l.assembler.AssembleBatch(items, l.cfg.NMS, out)
	if err != nil {
		return nil, err
	}
	if log.Enabled(log.DebugLevel) {
		log.Debug(log.Fields{
			"variant":    l.Name(),
			"candidates": postprocess.CandidateCounts(items),
			"written":    counts,
		}, "forward")
	}
	return counts, nil
}

// Detect runs the same pipeline as Forward and returns at most PostTopN
// proposals per batch item.
func (l *Layer) Detect(inputs []tensor.Tensor) ([][]postprocess.Result, error) {
	items, err := l.candidates(inputs)
	if err != nil {
		return nil, err
	}
	return postprocess.KeepBatch(items, l.cfg.NMS, l.cfg.PostTopN), nil
}

// ROIs flattens per-item proposals into the [N, 5] rois tensor expected by
// the frcn head, batch index in column 0.
func ROIs(items [][]postprocess.Result) tensor.Tensor {
	width := postprocess.LayoutROI.Width()
	var n int
	for _, props := range items {
		n += len(props)
	}

	data := make([]float32, 0, n*width)
	for b, props := range items {
		for _, p := range props {
			data = append(data, float32(b), p.Box.X1, p.Box.Y1, p.Box.X2, p.Box.Y2)
		}
	}
	return tensor.New(tensor.WithShape(n, width), tensor.WithBacking(data))
}

// candidates returns the clipped, thresholded proposals of each batch item
// ordered by descending objectness.
func (l *Layer) candidates(inputs []tensor.Tensor) ([][]postprocess.Result, error) {
	if err := model.CheckInputs(l.Name(), inputs, numInputs); err != nil {
		return nil, err
	}

	a := l.cache.NumAnchors()
	shape, err := model.CheckShape("rpn_cls_prob", inputs[InputScores], -1, 2*a, -1, -1)
	if err != nil {
		return nil, err
	}
	batch, h, w := shape[0], shape[2], shape[3]
	if _, err := model.CheckShape("rpn_bbox_pred", inputs[InputDeltas], batch, 4*a, h, w); err != nil {
		return nil, err
	}
	scores, err := model.Float32Data("rpn_cls_prob", inputs[InputScores])
	if err != nil {
		return nil, err
	}
	deltas, err := model.Float32Data("rpn_bbox_pred", inputs[InputDeltas])
	if err != nil {
		return nil, err
	}

	count := h * w
	plane := l.cache.Plane(h, w, l.cfg.FeatStride)
	imgW, imgH := float32(l.cfg.InputWidth), float32(l.cfg.InputHeight)

	items := make([][]postprocess.Result, batch)
	for b := 0; b < batch; b++ {
		itemScores := scores[b*2*a*count : (b+1)*2*a*count]
		itemDeltas := deltas[b*4*a*count : (b+1)*4*a*count]

		hits, err := postprocess.FilterGrid(itemScores[a*count:], a, count, l.cfg.ObjThreshold)
		if err != nil {
			return nil, err
		}

		props := make([]postprocess.Result, 0, len(hits))
		for _, hit := range hits {
			j, num := hit.Location, hit.Anchor
			var delta [4]float32
			for k := range delta {
				delta[k] = itemDeltas[j+count*(num*4+k)]
			}
			box := codec.ClipBox(codec.DecodeBox(plane[hit.Index], delta), imgW, imgH)
			props = append(props, postprocess.Result{Box: box, Score: hit.Score})
		}
		sort.SliceStable(props, func(i, k int) bool { return props[i].Score > props[k].Score })
		items[b] = props
	}
	return items, nil
}
