package benchmark

import (
	"fmt"

	"github.com/nvr-ai/go-detect/models/model"
)

// Scenario defines one benchmark configuration.
type Scenario struct {
	// Name identifies the scenario in results.
	Name string `json:"name" yaml:"name" validate:"required"`
	// Layer is the detection layer variant, built from its default configuration.
	Layer model.Name `json:"layer" yaml:"layer" validate:"oneof=frcn yolo retinaface proposal"`
	// Batch is the number of images per Forward call.
	Batch int `json:"batch" yaml:"batch" validate:"gt=0"`
	// Density is the fraction of anchors (or proposals) whose score passes
	// the layer threshold.
	Density float32 `json:"density" yaml:"density" validate:"gte=0,lte=1"`
	// Iterations is the number of measured Forward calls.
	Iterations int `json:"iterations" yaml:"iterations" validate:"gt=0"`
	// WarmupRuns are unmeasured calls made first.
	WarmupRuns int `json:"warmup_runs" yaml:"warmup_runs" validate:"gte=0"`
	// Seed makes the synthetic inputs reproducible.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// ScenarioBuilder helps build test scenarios with fluent API
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			Layer:      model.ModelNameYOLO,
			Batch:      1,
			Density:    0.01,
			Iterations: 100,
			WarmupRuns: 10,
			Seed:       1,
		},
	}
}

// WithLayer sets the detection layer variant.
func (sb *ScenarioBuilder) WithLayer(name model.Name) *ScenarioBuilder {
	sb.scenario.Layer = name
	return sb
}

// WithBatch sets the batch size.
func (sb *ScenarioBuilder) WithBatch(batch int) *ScenarioBuilder {
	sb.scenario.Batch = batch
	return sb
}

// WithDensity sets the fraction of candidates above threshold.
func (sb *ScenarioBuilder) WithDensity(density float32) *ScenarioBuilder {
	sb.scenario.Density = density
	return sb
}

// WithIterations sets the number of test iterations
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of warmup runs
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// WithSeed sets the input generator seed.
func (sb *ScenarioBuilder) WithSeed(seed uint64) *ScenarioBuilder {
	sb.scenario.Seed = seed
	return sb
}

// Build returns the configured test scenario
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// QuickScenarios returns one light scenario per layer variant.
func QuickScenarios() []Scenario {
	out := make([]Scenario, 0, len(model.Names))
	for _, name := range model.Names {
		out = append(out, NewScenarioBuilder(fmt.Sprintf("quick_%s", name)).
			WithLayer(name).
			WithIterations(20).
			WithWarmupRuns(2).
			Build())
	}
	return out
}

// DensityScenarios sweeps candidate density for one layer, which drives the
// quadratic suppression cost.
func DensityScenarios(name model.Name, densities ...float32) []Scenario {
	out := make([]Scenario, 0, len(densities))
	for _, d := range densities {
		out = append(out, NewScenarioBuilder(fmt.Sprintf("%s_density_%g", name, d)).
			WithLayer(name).
			WithDensity(d).
			Build())
	}
	return out
}
