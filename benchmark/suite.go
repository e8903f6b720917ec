package benchmark

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/models/model"
)

// Suite manages and executes benchmark scenarios
type Suite struct {
	scenarios []Scenario
	outputDir string
	mu        sync.RWMutex
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - outputDir: Directory SaveResults writes to.
func NewSuite(outputDir string) *Suite {
	return &Suite{outputDir: outputDir}
}

// AddScenario adds a test scenario to the benchmark suite
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// Results returns a copy of the collected metrics.
func (bs *Suite) Results() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make([]PerformanceMetrics, len(bs.results))
	copy(out, bs.results)
	return out
}

// Run executes every scenario in order and stops at the first error.
func (bs *Suite) Run(ctx context.Context) error {
	bs.mu.RLock()
	scenarios := append([]Scenario(nil), bs.scenarios...)
	bs.mu.RUnlock()

	for _, sc := range scenarios {
		m, err := bs.RunScenario(ctx, sc)
		if err != nil {
			return errors.Wrapf(err, "scenario %s", sc.Name)
		}
		bs.mu.Lock()
		bs.results = append(bs.results, *m)
		bs.mu.Unlock()

		log.Info(log.Fields{
			"scenario":  sc.Name,
			"mean_us":   m.MeanDuration.Microseconds(),
			"calls_sec": m.CallsPerSecond,
			"records":   m.RecordCount,
		}, "scenario complete")
	}
	return nil
}

// RunScenario executes a single benchmark scenario
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if err := model.Validate("benchmark", scenario); err != nil {
		return nil, err
	}
	cfg, err := config.Default(scenario.Layer)
	if err != nil {
		return nil, err
	}
	det, err := models.NewModel(cfg)
	if err != nil {
		return nil, err
	}
	inputs, err := Inputs(cfg, scenario.Batch, scenario.Density, scenario.Seed)
	if err != nil {
		return nil, err
	}

	shape := det.OutputShape(scenario.Batch)
	out := make([]float32, shape[0]*shape[1]*shape[2]*shape[3])

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := det.Forward(inputs, out); err != nil {
			return nil, err
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	metrics := &PerformanceMetrics{Scenario: scenario, Timestamp: time.Now()}
	failures := 0
	start := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		counts, err := det.Forward(inputs, out)
		if err != nil {
			failures++
			continue
		}
		for _, c := range counts {
			metrics.RecordCount += c
		}
	}
	metrics.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)

	metrics.MeanDuration = metrics.TotalDuration / time.Duration(scenario.Iterations)
	metrics.CallsPerSecond = float64(scenario.Iterations) / metrics.TotalDuration.Seconds()
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}
	metrics.CPUStats = CPUMetrics{NumCPU: runtime.NumCPU(), GOMAXPROCS: runtime.GOMAXPROCS(0)}
	return metrics, nil
}

// SaveResults writes the collected metrics as indented JSON.
//
// Returns:
//   - The path of the written file.
func (bs *Suite) SaveResults() (string, error) {
	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(bs.Results(), "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode results")
	}
	path := filepath.Join(bs.outputDir, "results_"+time.Now().Format("20060102_150405")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write results")
	}
	return path, nil
}
