package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/models/frcn"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/proposal"
	"github.com/nvr-ai/go-detect/models/retinaface"
	"github.com/nvr-ai/go-detect/models/yolo"
)

var (
	_ model.Detector = (*frcn.Detector)(nil)
	_ model.Detector = (*yolo.Detector)(nil)
	_ model.Detector = (*retinaface.Detector)(nil)
	_ model.Detector = (*proposal.Layer)(nil)
)

// NewModel creates the detection layer selected by a configuration.
//
// The variant is chosen once here; callers drive the result through the
// model.Detector interface only.
//
// Arguments:
//   - cfg: A configuration whose block matches its Type.
//
// Returns:
//   - model.Detector: The configured layer.
//   - error: model.ErrInvalidConfig if the configuration is rejected,
//     model.ErrUnsupported for an unknown type.
//
// Example:
//
//	cfg, err := config.Load("layer.yaml")
//	if err != nil {
//	    return err
//	}
//	det, err := models.NewModel(cfg)
//	if err != nil {
//	    return err
//	}
//	out := make([]float32, product(det.OutputShape(1)))
//	counts, err := det.Forward(inputs, out)
func NewModel(cfg *config.LayerConfig) (model.Detector, error) {
	if cfg == nil {
		return nil, errors.Wrap(model.ErrInvalidConfig, "nil layer configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case model.ModelNameFRCN:
		d, err := frcn.New(*cfg.FRCN)
		if err != nil {
			return nil, err
		}
		return d, nil
	case model.ModelNameYOLO:
		d, err := yolo.New(*cfg.YOLO)
		if err != nil {
			return nil, err
		}
		return d, nil
	case model.ModelNameRetinaFace:
		d, err := retinaface.New(*cfg.RetinaFace)
		if err != nil {
			return nil, err
		}
		return d, nil
	case model.ModelNameProposal:
		l, err := proposal.New(*cfg.Proposal)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, errors.Wrapf(model.ErrUnsupported, "unsupported layer type: %s", cfg.Type)
	}
}
