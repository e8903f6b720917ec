package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/models/model"
)

// ErrUnknownLabel is returned when a class index or name is not in a label set.
var ErrUnknownLabel = errors.New("unknown class label")

// LabelSet ties a family to its ordered class names.
type LabelSet struct {
	// Family identifies the set.
	Family ModelFamily
	// Names holds the label of class index i at position i.
	Names []string

	byName map[string]int
}

// NewLabelSet creates a set and indexes its names.
func NewLabelSet(family ModelFamily, names ...string) *LabelSet {
	s := &LabelSet{Family: family, Names: names, byName: make(map[string]int, len(names))}
	for i, n := range names {
		s.byName[n] = i
	}
	return s
}

// Name returns the label of a class index.
func (s *LabelSet) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Names) {
		return "", errors.Wrapf(ErrUnknownLabel, "index %d out of range for %q (%d classes)",
			idx, s.Family, len(s.Names))
	}
	return s.Names[idx], nil
}

// Index returns the class index of a label.
func (s *LabelSet) Index(name string) (int, error) {
	idx, ok := s.byName[name]
	if !ok {
		return -1, errors.Wrapf(ErrUnknownLabel, "name %q not in %q", name, s.Family)
	}
	return idx, nil
}

// Map translates a class index of this set into the index of the same name
// in another set.
func (s *LabelSet) Map(idx int, to *LabelSet) (int, error) {
	name, err := s.Name(idx)
	if err != nil {
		return -1, err
	}
	return to.Index(name)
}

// cocoNames are the 80 COCO detection classes in model output order.
var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

const background = "__background__"

var (
	// PascalVOCLabels are the classes of the VOC Faster R-CNN head.
	PascalVOCLabels = NewLabelSet(ModelFamilyVOC,
		background, "aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car", "cat",
		"chair", "cow", "diningtable", "dog", "horse", "motorbike", "person", "pottedplant",
		"sheep", "sofa", "train", "tvmonitor",
	)
	// COCOLabels are the classes of the COCO YOLO heads.
	COCOLabels = NewLabelSet(ModelFamilyCOCO, cocoNames...)
	// FaceLabels are the classes of the RetinaFace head.
	FaceLabels = NewLabelSet(ModelFamilyFace, background, "face")
	// ObjectnessLabels are the classes of the proposal layer.
	ObjectnessLabels = NewLabelSet(ModelFamilyObjectness, "object")
)

// LabelsFor returns the default label set of a variant.
//
// Returns:
//   - model.ErrUnsupported for an unknown variant.
func LabelsFor(name model.Name) (*LabelSet, error) {
	switch name {
	case model.ModelNameFRCN:
		return PascalVOCLabels, nil
	case model.ModelNameYOLO:
		return COCOLabels, nil
	case model.ModelNameRetinaFace:
		return FaceLabels, nil
	case model.ModelNameProposal:
		return ObjectnessLabels, nil
	default:
		return nil, errors.Wrapf(model.ErrUnsupported, "no labels for %q", name)
	}
}
