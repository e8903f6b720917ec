package benchmark

import (
	"context"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/models/model"
)

func TestScenarioBuilder(t *testing.T) {
	sc := NewScenarioBuilder("test_scenario").
		WithLayer(model.ModelNameRetinaFace).
		WithBatch(2).
		WithDensity(0.2).
		WithIterations(5).
		WithWarmupRuns(1).
		WithSeed(7).
		Build()

	assert.Equal(t, Scenario{
		Name:       "test_scenario",
		Layer:      model.ModelNameRetinaFace,
		Batch:      2,
		Density:    0.2,
		Iterations: 5,
		WarmupRuns: 1,
		Seed:       7,
	}, sc)
}

func TestInputsMatchEveryLayer(t *testing.T) {
	for _, name := range model.Names {
		t.Run(string(name), func(t *testing.T) {
			cfg, err := config.Default(name)
			require.NoError(t, err)
			det, err := models.NewModel(cfg)
			require.NoError(t, err)

			inputs, err := Inputs(cfg, 2, 0.01, 3)
			require.NoError(t, err)

			shape := det.OutputShape(2)
			out := make([]float32, shape[0]*shape[1]*shape[2]*shape[3])
			counts, err := det.Forward(inputs, out)
			require.NoError(t, err)
			assert.Len(t, counts, 2)
		})
	}
}

func TestInputsAreReproducible(t *testing.T) {
	cfg := config.DefaultProposal()
	a, err := Inputs(cfg, 1, 0.05, 11)
	require.NoError(t, err)
	b, err := Inputs(cfg, 1, 0.05, 11)
	require.NoError(t, err)
	assert.Equal(t, a[0].Data(), b[0].Data())
}

func TestInputsZeroDensityYieldsNothing(t *testing.T) {
	cfg := config.DefaultRetinaFace()
	det, err := models.NewModel(cfg)
	require.NoError(t, err)

	inputs, err := Inputs(cfg, 1, 0, 5)
	require.NoError(t, err)
	results, err := det.Detect(inputs)
	require.NoError(t, err)
	assert.Empty(t, results[0])
}

func TestSuiteRunAndSave(t *testing.T) {
	suite := NewSuite(t.TempDir())
	suite.AddScenario(NewScenarioBuilder("frcn").WithLayer(model.ModelNameFRCN).
		WithIterations(3).WithWarmupRuns(1).Build())
	suite.AddScenario(NewScenarioBuilder("yolo").WithLayer(model.ModelNameYOLO).
		WithIterations(2).WithWarmupRuns(0).Build())

	require.NoError(t, suite.Run(context.Background()))
	results := suite.Results()
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Zero(t, r.ErrorRate, r.Scenario.Name)
		assert.Positive(t, r.TotalDuration, r.Scenario.Name)
	}

	path, err := suite.SaveResults()
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRunScenarioRejects(t *testing.T) {
	suite := NewSuite(t.TempDir())
	_, err := suite.RunScenario(context.Background(), Scenario{Name: "bad", Layer: "ssd", Batch: 1, Iterations: 1})
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = suite.RunScenario(ctx, NewScenarioBuilder("cancelled").WithIterations(1).WithWarmupRuns(0).Build())
	assert.True(t, errors.Is(err, context.Canceled))
}

func benchmarkLayer(b *testing.B, name model.Name, batch int, density float32) {
	cfg, err := config.Default(name)
	require.NoError(b, err)
	det, err := models.NewModel(cfg)
	require.NoError(b, err)
	inputs, err := Inputs(cfg, batch, density, 1)
	require.NoError(b, err)

	shape := det.OutputShape(batch)
	out := make([]float32, shape[0]*shape[1]*shape[2]*shape[3])

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := det.Forward(inputs, out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFRCNForward(b *testing.B)       { benchmarkLayer(b, model.ModelNameFRCN, 1, 0.05) }
func BenchmarkYOLOForward(b *testing.B)       { benchmarkLayer(b, model.ModelNameYOLO, 1, 0.005) }
func BenchmarkRetinaFaceForward(b *testing.B) { benchmarkLayer(b, model.ModelNameRetinaFace, 1, 0.005) }
func BenchmarkProposalForward(b *testing.B)   { benchmarkLayer(b, model.ModelNameProposal, 1, 0.01) }
func BenchmarkYOLOForwardBatch4(b *testing.B) { benchmarkLayer(b, model.ModelNameYOLO, 4, 0.005) }
