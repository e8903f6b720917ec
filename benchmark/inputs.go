package benchmark

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/models/model"
)

// retinaFaceInput is the square input size assumed for RetinaFace pyramids.
const retinaFaceInput = 640

// proposalsPerImage is the number of rois generated per image for frcn.
const proposalsPerImage = 300

// generator draws synthetic network outputs.
type generator struct {
	r       *rand.Rand
	density float32
}

func newGenerator(seed uint64, density float32) *generator {
	return &generator{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), density: density}
}

func (g *generator) hit() bool { return g.r.Float32() < g.density }

func (g *generator) uniform(lo, hi float32) float32 { return lo + g.r.Float32()*(hi-lo) }

func (g *generator) fill(data []float32, lo, hi float32) {
	for i := range data {
		data[i] = g.uniform(lo, hi)
	}
}

func dense(data []float32, shape ...int) tensor.Tensor {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// Inputs builds synthetic inputs matching a layer configuration.
//
// Arguments:
//   - cfg: A validated layer configuration.
//   - batch: Images per call.
//   - density: Fraction of candidates scored above the layer threshold.
//   - seed: Generator seed.
//
// Returns:
//   - Tensors in the order the layer's Forward expects.
func Inputs(cfg *config.LayerConfig, batch int, density float32, seed uint64) ([]tensor.Tensor, error) {
	g := newGenerator(seed, density)
	switch cfg.Type {
	case model.ModelNameFRCN:
		return g.frcn(cfg, batch), nil
	case model.ModelNameYOLO:
		return g.yolo(cfg, batch), nil
	case model.ModelNameRetinaFace:
		return g.retinaface(cfg, batch), nil
	case model.ModelNameProposal:
		return g.proposal(cfg, batch), nil
	default:
		return nil, errors.Wrapf(model.ErrUnsupported, "benchmark: no input generator for %q", cfg.Type)
	}
}

func (g *generator) frcn(cfg *config.LayerConfig, batch int) []tensor.Tensor {
	c := cfg.FRCN.ClassNum
	n := proposalsPerImage * batch

	rois := make([]float32, 0, n*5)
	scores := make([]float32, n*c)
	deltas := make([]float32, n*c*4)
	g.fill(deltas, -0.1, 0.1)
	for i := 0; i < n; i++ {
		x, y := g.uniform(0, 500), g.uniform(0, 300)
		rois = append(rois, float32(i/proposalsPerImage), x, y, x+g.uniform(16, 200), y+g.uniform(16, 200))

		row := scores[i*c : (i+1)*c]
		if g.hit() {
			row[1+g.r.IntN(c-1)] = g.uniform(0.6, 1)
		} else {
			row[0] = 0.95
		}
	}
	return []tensor.Tensor{dense(deltas, n, c*4), dense(scores, n, c), dense(rois, n, 5)}
}

func (g *generator) yolo(cfg *config.LayerConfig, batch int) []tensor.Tensor {
	y := cfg.YOLO
	per := 5 + y.ClassNum
	out := make([]tensor.Tensor, len(y.Masks))
	for l, mask := range y.Masks {
		stride := 32 >> l
		h, w := max(1, y.NetHeight/stride), max(1, y.NetWidth/stride)
		count := h * w
		data := make([]float32, batch*len(mask)*per*count)
		g.fill(data, -4, 4)
		for b := 0; b < batch; b++ {
			for a := range mask {
				obj := data[((b*len(mask)+a)*per+4)*count:][:count]
				for j := range obj {
					if g.hit() {
						obj[j] = 6
					} else {
						obj[j] = -8
					}
				}
			}
		}
		out[l] = dense(data, batch, len(mask)*per, h, w)
	}
	return out
}

func (g *generator) retinaface(cfg *config.LayerConfig, batch int) []tensor.Tensor {
	var out []tensor.Tensor
	for _, lv := range cfg.RetinaFace.Levels {
		a := lv.NumAnchors()
		h, w := max(1, retinaFaceInput/lv.Stride), max(1, retinaFaceInput/lv.Stride)
		scores := g.objectness(batch, a, h*w)
		bbox := make([]float32, batch*4*a*h*w)
		g.fill(bbox, -0.1, 0.1)
		landmark := make([]float32, batch*10*a*h*w)
		g.fill(landmark, -0.5, 0.5)
		out = append(out,
			dense(scores, batch, 2*a, h, w),
			dense(bbox, batch, 4*a, h, w),
			dense(landmark, batch, 10*a, h, w),
		)
	}
	return out
}

func (g *generator) proposal(cfg *config.LayerConfig, batch int) []tensor.Tensor {
	p := cfg.Proposal
	a := len(p.AnchorRatios) * len(p.AnchorScales)
	h, w := max(1, p.InputHeight/p.FeatStride), max(1, p.InputWidth/p.FeatStride)
	scores := g.objectness(batch, a, h*w)
	deltas := make([]float32, batch*4*a*h*w)
	g.fill(deltas, -0.1, 0.1)
	return []tensor.Tensor{dense(scores, batch, 2*a, h, w), dense(deltas, batch, 4*a, h, w)}
}

// objectness returns [batch, 2a, count] probabilities, background first.
func (g *generator) objectness(batch, a, count int) []float32 {
	data := make([]float32, batch*2*a*count)
	for b := 0; b < batch; b++ {
		item := data[b*2*a*count : (b+1)*2*a*count]
		for i := 0; i < a*count; i++ {
			fg := g.uniform(0, 0.3)
			if g.hit() {
				fg = g.uniform(0.9, 1)
			}
			item[i] = 1 - fg
			item[a*count+i] = fg
		}
	}
	return data
}
