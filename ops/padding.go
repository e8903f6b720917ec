// Package ops - auxiliary tensor layers used around the detection heads.
package ops

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models/model"
)

// PadConstant is the only supported padding method.
const PadConstant = "constant"

// PaddingConfig configures spatial padding of NCHW tensors.
type PaddingConfig struct {
	// Method is the fill strategy. Only PadConstant is implemented.
	Method string `json:"pad_method" yaml:"pad_method" validate:"required"`
	// Value fills the padded border.
	Value float32 `json:"pad_value" yaml:"pad_value"`
	// Top, Left, Bottom and Right are the border widths in elements.
	Top    int `json:"pad_t" yaml:"pad_t" validate:"gte=0"`
	Left   int `json:"pad_l" yaml:"pad_l" validate:"gte=0"`
	Bottom int `json:"pad_b" yaml:"pad_b" validate:"gte=0"`
	Right  int `json:"pad_r" yaml:"pad_r" validate:"gte=0"`
}

// Padding pads the two trailing axes of a 4-D tensor.
type Padding struct {
	cfg PaddingConfig
}

// NewPadding validates the configuration.
//
// Returns:
//   - model.ErrUnsupported for any method other than PadConstant.
//   - model.ErrInvalidConfig for negative borders.
func NewPadding(cfg PaddingConfig) (*Padding, error) {
	if err := model.Validate("padding", cfg); err != nil {
		return nil, err
	}
	if cfg.Method != PadConstant {
		return nil, errors.Wrapf(model.ErrUnsupported, "padding: method %q, only %q is implemented",
			cfg.Method, PadConstant)
	}
	log.Debug(log.Fields{"top": cfg.Top, "left": cfg.Left, "bottom": cfg.Bottom, "right": cfg.Right,
		"value": cfg.Value}, "padding configured")
	return &Padding{cfg: cfg}, nil
}

// OutputShape returns the input shape with the borders added to H and W.
func (p *Padding) OutputShape(in tensor.Shape) ([]int, error) {
	if len(in) != 4 {
		return nil, errors.Wrapf(model.ErrShapeMismatch, "padding: shape %v is not NCHW", in)
	}
	return []int{in[0], in[1], in[2] + p.cfg.Top + p.cfg.Bottom, in[3] + p.cfg.Left + p.cfg.Right}, nil
}

// Forward writes the padded input into out.
//
// Arguments:
//   - in: A float32 NCHW tensor.
//   - out: Buffer of at least the OutputShape element count.
func (p *Padding) Forward(in tensor.Tensor, out []float32) error {
	if in == nil {
		return errors.Wrap(model.ErrShapeMismatch, "padding: missing input")
	}
	shape, err := p.OutputShape(in.Shape())
	if err != nil {
		return err
	}
	data, err := model.Float32Data("padding", in)
	if err != nil {
		return err
	}
	if err := model.CheckOutput("padding", out, shape); err != nil {
		return err
	}

	planes := shape[0] * shape[1]
	h, w := in.Shape()[2], in.Shape()[3]
	ph, pw := shape[2], shape[3]
	for c := 0; c < planes; c++ {
		src := data[c*h*w : (c+1)*h*w]
		dst := out[c*ph*pw : (c+1)*ph*pw]
		for y := 0; y < ph; y++ {
			row := dst[y*pw : (y+1)*pw]
			sy := y - p.cfg.Top
			if sy < 0 || sy >= h {
				fill(row, p.cfg.Value)
				continue
			}
			fill(row[:p.cfg.Left], p.cfg.Value)
			copy(row[p.cfg.Left:p.cfg.Left+w], src[sy*w:(sy+1)*w])
			fill(row[p.cfg.Left+w:], p.cfg.Value)
		}
	}
	return nil
}

func fill(dst []float32, v float32) {
	for i := range dst {
		dst[i] = v
	}
}
