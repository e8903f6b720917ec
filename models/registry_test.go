package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/models/model"
)

func TestNewModelBuildsEveryVariant(t *testing.T) {
	for _, name := range model.Names {
		t.Run(string(name), func(t *testing.T) {
			cfg, err := config.Default(name)
			require.NoError(t, err)

			det, err := NewModel(cfg)
			require.NoError(t, err)
			assert.Equal(t, name, det.Name())
			assert.Len(t, det.OutputShape(1), 4)
		})
	}
}

func TestNewModelRejectsBadConfig(t *testing.T) {
	_, err := NewModel(nil)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))

	cfg := config.DefaultYOLOv3()
	cfg.YOLO.Masks = cfg.YOLO.Masks[:2]
	_, err = NewModel(cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))

	cfg = config.DefaultFRCN()
	cfg.Type = model.ModelNameProposal
	_, err = NewModel(cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestLabelSets(t *testing.T) {
	assert.Len(t, PascalVOCLabels.Names, 21)
	assert.Len(t, COCOLabels.Names, 80)

	name, err := PascalVOCLabels.Name(15)
	require.NoError(t, err)
	assert.Equal(t, "person", name)

	idx, err := PascalVOCLabels.Map(15, COCOLabels)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = PascalVOCLabels.Map(1, COCOLabels)
	assert.True(t, errors.Is(err, ErrUnknownLabel))

	_, err = FaceLabels.Name(2)
	assert.True(t, errors.Is(err, ErrUnknownLabel))
}

func TestLabelsForMatchesClassCounts(t *testing.T) {
	for _, cfg := range []*config.LayerConfig{config.DefaultFRCN(), config.DefaultYOLOv3()} {
		labels, err := LabelsFor(cfg.Type)
		require.NoError(t, err)
		switch cfg.Type {
		case model.ModelNameFRCN:
			assert.Len(t, labels.Names, cfg.FRCN.ClassNum)
		case model.ModelNameYOLO:
			assert.Len(t, labels.Names, cfg.YOLO.ClassNum)
		}
	}

	labels, err := LabelsFor(model.ModelNameRetinaFace)
	require.NoError(t, err)
	face, err := labels.Name(1)
	require.NoError(t, err)
	assert.Equal(t, "face", face)

	_, err = LabelsFor("ssd")
	assert.True(t, errors.Is(err, model.ErrUnsupported))
}
