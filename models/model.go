// Package models - builds detection layers and names the classes they emit.
package models

// ModelFamily identifies the dataset a layer's class indices come from.
type ModelFamily string

const (
	// ModelFamilyVOC is Pascal VOC: 20 classes with background at index 0.
	ModelFamilyVOC ModelFamily = "voc"
	// ModelFamilyCOCO is the 80 COCO classes, zero-based with no background.
	ModelFamilyCOCO ModelFamily = "coco"
	// ModelFamilyFace is background plus a single face class.
	ModelFamilyFace ModelFamily = "face"
	// ModelFamilyObjectness is background plus a class-agnostic object.
	ModelFamilyObjectness ModelFamily = "objectness"
)
