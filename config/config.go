// Package config - loads detection layer configurations from YAML or JSON.
//
// A file names one variant in its type field and may carry the matching
// block; fields it omits keep the variant defaults:
//
//	type: yolo
//	yolo:
//	  obj_threshold: 0.6
//	  nms:
//	    iou_threshold: 0.5
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
	"github.com/modern-go/reflect2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-detect/models/frcn"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/proposal"
	"github.com/nvr-ai/go-detect/models/retinaface"
	"github.com/nvr-ai/go-detect/models/yolo"
)

// Format is a configuration file encoding.
type Format string

const (
	// FormatYAML selects gopkg.in/yaml.v3.
	FormatYAML Format = "yaml"
	// FormatJSON selects json-iterator.
	FormatJSON Format = "json"
)

var strictJSON = newStrictJSON()

func newStrictJSON() jsoniter.API {
	api := jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		DisallowUnknownFields:  true,
	}.Froze()
	api.RegisterExtension(&freshSlices{})
	return api
}

// freshSlices makes a JSON array replace a default slice instead of
// decoding over its elements, matching yaml.v3.
type freshSlices struct {
	jsoniter.DummyExtension
}

func (freshSlices) DecorateDecoder(typ reflect2.Type, dec jsoniter.ValDecoder) jsoniter.ValDecoder {
	st, ok := typ.(reflect2.SliceType)
	if !ok {
		return dec
	}
	return &freshSliceDecoder{typ: st, dec: dec}
}

type freshSliceDecoder struct {
	typ reflect2.SliceType
	dec jsoniter.ValDecoder
}

func (d *freshSliceDecoder) Decode(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	d.typ.UnsafeSetNil(ptr)
	d.dec.Decode(ptr, iter)
}

// LayerConfig selects one detection layer variant and carries its settings.
type LayerConfig struct {
	// Type is the variant to build.
	Type model.Name `json:"type" yaml:"type" validate:"required,oneof=frcn yolo retinaface proposal"`
	// FRCN configures the Faster R-CNN head.
	FRCN *frcn.Config `json:"frcn,omitempty" yaml:"frcn,omitempty"`
	// YOLO configures the YOLO head.
	YOLO *yolo.Config `json:"yolo,omitempty" yaml:"yolo,omitempty"`
	// RetinaFace configures the RetinaFace head.
	RetinaFace *retinaface.Config `json:"retinaface,omitempty" yaml:"retinaface,omitempty"`
	// Proposal configures the region proposal layer.
	Proposal *proposal.Config `json:"proposal,omitempty" yaml:"proposal,omitempty"`
}

// DefaultFRCN returns a configuration for the Pascal VOC Faster R-CNN head.
func DefaultFRCN() *LayerConfig {
	c := frcn.DefaultConfig()
	return &LayerConfig{Type: model.ModelNameFRCN, FRCN: &c}
}

// DefaultYOLOv3 returns a configuration for the COCO YOLOv3 head.
func DefaultYOLOv3() *LayerConfig {
	c := yolo.DefaultConfig()
	return &LayerConfig{Type: model.ModelNameYOLO, YOLO: &c}
}

// DefaultRetinaFace returns a configuration for the three-level RetinaFace head.
func DefaultRetinaFace() *LayerConfig {
	c := retinaface.DefaultConfig()
	return &LayerConfig{Type: model.ModelNameRetinaFace, RetinaFace: &c}
}

// DefaultProposal returns a configuration for the region proposal layer.
func DefaultProposal() *LayerConfig {
	c := proposal.DefaultConfig()
	return &LayerConfig{Type: model.ModelNameProposal, Proposal: &c}
}

// Default returns the default configuration of a variant.
//
// Returns:
//   - model.ErrUnsupported for an unknown variant name.
func Default(name model.Name) (*LayerConfig, error) {
	switch name {
	case model.ModelNameFRCN:
		return DefaultFRCN(), nil
	case model.ModelNameYOLO:
		return DefaultYOLOv3(), nil
	case model.ModelNameRetinaFace:
		return DefaultRetinaFace(), nil
	case model.ModelNameProposal:
		return DefaultProposal(), nil
	default:
		return nil, errors.Wrapf(model.ErrUnsupported, "config: unknown layer type %q", name)
	}
}

// blocks returns the variant blocks that are set.
func (c *LayerConfig) blocks() []model.Name {
	var set []model.Name
	if c.FRCN != nil {
		set = append(set, model.ModelNameFRCN)
	}
	if c.YOLO != nil {
		set = append(set, model.ModelNameYOLO)
	}
	if c.RetinaFace != nil {
		set = append(set, model.ModelNameRetinaFace)
	}
	if c.Proposal != nil {
		set = append(set, model.ModelNameProposal)
	}
	return set
}

// Validate checks the struct tags of the selected block and that exactly
// that block is set.
//
// Returns:
//   - model.ErrInvalidConfig on the first failure.
func (c *LayerConfig) Validate() error {
	if err := model.Validate("config", c); err != nil {
		return err
	}
	set := c.blocks()
	if len(set) != 1 || set[0] != c.Type {
		return errors.Wrapf(model.ErrInvalidConfig, "config: type %q needs exactly its own block, have %v",
			c.Type, set)
	}
	return nil
}

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.Wrapf(model.ErrUnsupported, "config: cannot infer format of %q", path)
	}
}

// Load reads and parses a configuration file.
//
// Arguments:
//   - path: A .yaml, .yml or .json file.
//
// Returns:
//   - The validated configuration.
func Load(path string) (*LayerConfig, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	return Parse(data, format)
}

// Parse decodes a configuration, filling omitted fields of the selected
// block with the variant defaults.
//
// Unknown keys are rejected.
//
// Returns:
//   - The validated configuration.
//   - model.ErrInvalidConfig for undecodable or invalid documents.
//   - model.ErrUnsupported for an unknown format or type.
func Parse(data []byte, format Format) (*LayerConfig, error) {
	var header struct {
		Type model.Name `json:"type" yaml:"type"`
	}
	if err := decode(data, format, &header, false); err != nil {
		return nil, err
	}

	cfg, err := Default(header.Type)
	if err != nil {
		return nil, err
	}
	if err := decode(data, format, cfg, true); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, format Format, out any, strict bool) error {
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(strict)
		err = dec.Decode(out)
	case FormatJSON:
		if strict {
			err = strictJSON.Unmarshal(data, out)
		} else {
			err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, out)
		}
	default:
		return errors.Wrapf(model.ErrUnsupported, "config: format %q", format)
	}
	if err != nil {
		return errors.Wrapf(model.ErrInvalidConfig, "config: decode %s: %v", format, err)
	}
	return nil
}
