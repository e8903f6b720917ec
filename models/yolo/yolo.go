// Package yolo - YOLOv3 style single-shot grid detection head.
//
// Each output level is a [B, A*(5+C), H, W] map where, for anchor a, the
// channels a*(5+C)+0..3 are the box terms tx, ty, tw, th, channel a*(5+C)+4 is
// the objectness logit and the following C channels are class logits. The
// head emits [cx, cy, w, h, class, score] records in network input pixels.
package yolo

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// boxTerms is the number of channels per anchor before the class logits.
const boxTerms = 5

// Config is the configuration of the YOLO head.
type Config struct {
	// NMS configures suppression.
	NMS postprocess.NMSConfig `json:"nms" yaml:"nms"`
	// ObjThreshold is the minimum objectness and class score, exclusive.
	ObjThreshold float32 `json:"obj_threshold" yaml:"obj_threshold" validate:"gte=0,lte=1"`
	// TopK caps the records written per image.
	TopK int `json:"keep_topk" yaml:"keep_topk" validate:"gt=0"`
	// ClassNum is the number of classes. There is no background class.
	ClassNum int `json:"class_num" yaml:"class_num" validate:"gt=0"`
	// NetWidth is the network input width in pixels.
	NetWidth int `json:"net_input_w" yaml:"net_input_w" validate:"gt=0"`
	// NetHeight is the network input height in pixels.
	NetHeight int `json:"net_input_h" yaml:"net_input_h" validate:"gt=0"`
	// Tiny selects the two-level tiny model instead of three levels.
	Tiny bool `json:"tiny" yaml:"tiny"`
	// Biases are anchor (width, height) pairs in network input pixels.
	Biases []float32 `json:"biases" yaml:"biases" validate:"min=2,dive,gt=0"`
	// Masks lists, per output level, the indices of the bias pairs it uses.
	Masks [][]int `json:"masks" yaml:"masks" validate:"min=1,dive,min=1,dive,gte=0"`
	// MaxRaw caps the candidates per image handed to suppression, in
	// emission order. Zero disables the cap.
	MaxRaw int `json:"max_det_raw" yaml:"max_det_raw" validate:"gte=0"`
}

// DefaultMaxRaw is the default candidate cap.
const DefaultMaxRaw = 500

// DefaultConfig returns the settings of the 416x416 COCO YOLOv3 model.
func DefaultConfig() Config {
	return Config{
		NMS:          postprocess.NMSConfig{IoUThreshold: 0.45},
		ObjThreshold: 0.5,
		TopK:         200,
		ClassNum:     80,
		NetWidth:     416,
		NetHeight:    416,
		Biases:       []float32{10, 13, 16, 30, 33, 23, 30, 61, 62, 45, 59, 119, 116, 90, 156, 198, 373, 326},
		Masks:        [][]int{{6, 7, 8}, {3, 4, 5}, {0, 1, 2}},
		MaxRaw:       DefaultMaxRaw,
	}
}

// DefaultTinyConfig returns the settings of the 416x416 COCO tiny YOLOv3 model.
func DefaultTinyConfig() Config {
	return Config{
		NMS:          postprocess.NMSConfig{IoUThreshold: 0.45},
		ObjThreshold: 0.5,
		TopK:         200,
		ClassNum:     80,
		NetWidth:     416,
		NetHeight:    416,
		Tiny:         true,
		Biases:       []float32{10, 14, 23, 27, 37, 58, 81, 82, 135, 169, 344, 319},
		Masks:        [][]int{{3, 4, 5}, {1, 2, 3}},
		MaxRaw:       DefaultMaxRaw,
	}
}

// Levels is the number of output levels the configuration expects.
func (c Config) Levels() int {
	if c.Tiny {
		return 2
	}
	return 3
}

func (c Config) validate() error {
	if err := model.Validate(model.ModelNameYOLO, c); err != nil {
		return err
	}
	if len(c.Biases)%2 != 0 {
		return errors.Wrapf(model.ErrInvalidConfig, "yolo: %d biases do not form pairs", len(c.Biases))
	}
	if len(c.Masks) != c.Levels() {
		return errors.Wrapf(model.ErrInvalidConfig, "yolo: %d masks for %d levels (tiny=%v)",
			len(c.Masks), c.Levels(), c.Tiny)
	}
	for l, mask := range c.Masks {
		for _, m := range mask {
			if m >= len(c.Biases)/2 {
				return errors.Wrapf(model.ErrInvalidConfig, "yolo: level %d mask %d has no bias pair", l, m)
			}
		}
	}
	return nil
}

// Detector is a configured YOLO head.
type Detector struct {
	cfg       Config
	assembler postprocess.Assembler
}

// New validates the configuration and creates the detector.
//
// Returns:
//   - model.ErrInvalidConfig if the tags fail, the biases are not pairs, the
//     mask count does not match the level count, or a mask index is out of range.
func New(cfg Config) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info(log.Fields{
		"variant":       model.ModelNameYOLO,
		"iou_threshold": cfg.NMS.IoUThreshold,
		"obj_threshold": cfg.ObjThreshold,
		"keep_topk":     cfg.TopK,
		"class_num":     cfg.ClassNum,
		"levels":        cfg.Levels(),
	}, "detection layer configured")

	return &Detector{
		cfg:       cfg,
		assembler: postprocess.Assembler{Layout: postprocess.LayoutCenter, TopK: cfg.TopK},
	}, nil
}

// Name returns model.ModelNameYOLO.
func (d *Detector) Name() model.Name { return model.ModelNameYOLO }

// Config returns a copy of the configuration.
func (d *Detector) Config() Config { return d.cfg }

// OutputShape returns [batch, 1, TopK, 6].
func (d *Detector) OutputShape(batch int) []int {
	return []int{batch, 1, d.cfg.TopK, d.assembler.Layout.Width()}
}

// Forward decodes every level and packs [cx, cy, w, h, class, score] records.
//
// Arguments:
//   - inputs: One [B, A*(5+ClassNum), H, W] tensor per level, in mask order.
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

// Detect runs the same pipeline as Forward and returns at most TopK results
// per batch item. Boxes are in corner form.
func (d *Detector) Detect(inputs []tensor.Tensor) ([][]postprocess.Result, error) {
	items, err := d.candidates(inputs)
	if err != nil {
		return nil, err
	}
	return postprocess.KeepBatch(items, d.cfg.NMS, d.cfg.TopK), nil
}

// level is a validated output level.
type level struct {
	data          []float32
	height, width int
	mask          []int
}

func (d *Detector) levels(inputs []tensor.Tensor) ([]level, int, error) {
	if err := model.CheckInputs(d.Name(), inputs, d.cfg.Levels()); err != nil {
		return nil, 0, err
	}

	batch := -1
	levels := make([]level, len(inputs))
	for l, in := range inputs {
		name := fmt.Sprintf("level%d", l)
		channels := len(d.cfg.Masks[l]) * (boxTerms + d.cfg.ClassNum)
		shape, err := model.CheckShape(name, in, batch, channels, -1, -1)
		if err != nil {
			return nil, 0, err
		}
		batch = shape[0]
		data, err := model.Float32Data(name, in)
		if err != nil {
			return nil, 0, err
		}
		levels[l] = level{data: data, height: shape[2], width: shape[3], mask: d.cfg.Masks[l]}
	}
	return levels, batch, nil
}

// candidates returns the thresholded, unsuppressed detections of each batch item.
func (d *Detector) candidates(inputs []tensor.Tensor) ([][]postprocess.Result, error) {
	levels, batch, err := d.levels(inputs)
	if err != nil {
		return nil, err
	}

	items := make([][]postprocess.Result, batch)
	for b := 0; b < batch; b++ {
		for _, lv := range levels {
			dets, err := d.decodeLevel(lv, b)
			if err != nil {
				return nil, err
			}
			items[b] = append(items[b], dets...)
			if d.cfg.MaxRaw > 0 && len(items[b]) >= d.cfg.MaxRaw {
				items[b] = items[b][:d.cfg.MaxRaw]
				break
			}
		}
	}
	return items, nil
}

// decodeLevel emits detections for one level of one batch item, anchor-major,
// location-minor, class innermost.
func (d *Detector) decodeLevel(lv level, b int) ([]postprocess.Result, error) {
	count := lv.height * lv.width
	perAnchor := boxTerms + d.cfg.ClassNum
	item := lv.data[b*len(lv.mask)*perAnchor*count : (b+1)*len(lv.mask)*perAnchor*count]
	channel := func(a, k int) []float32 {
		off := (a*perAnchor + k) * count
		return item[off : off+count]
	}

	netW := float32(d.cfg.NetWidth)
	netH := float32(d.cfg.NetHeight)
	objectness := make([]float32, count)

	var out []postprocess.Result
	for a, m := range lv.mask {
		for j, v := range channel(a, 4) {
			objectness[j] = sigmoid(v)
		}
		hits, err := postprocess.FilterGrid(objectness, 1, count, d.cfg.ObjThreshold)
		if err != nil {
			return nil, err
		}

		biasW, biasH := d.cfg.Biases[2*m], d.cfg.Biases[2*m+1]
		tx, ty, tw, th := channel(a, 0), channel(a, 1), channel(a, 2), channel(a, 3)
		for _, hit := range hits {
			j := hit.Location
			row, col := j/lv.width, j%lv.width
			box := geometry.CenterBox{
				CX: (float32(col) + sigmoid(tx[j])) / float32(lv.width) * netW,
				CY: (float32(row) + sigmoid(ty[j])) / float32(lv.height) * netH,
				W:  math32.Exp(tw[j]) * biasW,
				H:  math32.Exp(th[j]) * biasH,
			}.Corner()

			for c := 0; c < d.cfg.ClassNum; c++ {
				score := hit.Score * sigmoid(channel(a, boxTerms+c)[j])
				if score > d.cfg.ObjThreshold {
					out = append(out, postprocess.Result{Box: box, Score: score, Class: c})
				}
			}
		}
	}
	return out, nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
