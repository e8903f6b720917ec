package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nvr-ai/go-detect/benchmark"
	"github.com/nvr-ai/go-detect/log"
	"github.com/nvr-ai/go-detect/models/model"
)

func main() {
	var (
		outputDir = flag.String("output", "./benchmark_results", "Output directory for results")
		layer     = flag.String("layer", "", "Benchmark a single layer (frcn, yolo, retinaface, proposal)")
		densities = flag.String("densities", "0.001,0.01,0.05", "Comma separated densities for -layer")
		batch     = flag.Int("batch", 1, "Images per Forward call")
		quick     = flag.Bool("quick", false, "Run one quick scenario per layer")
		timeout   = flag.Duration("timeout", 30*time.Minute, "Benchmark timeout duration")
	)
	flag.Parse()

	suite := benchmark.NewSuite(*outputDir)
	if *quick || *layer == "" {
		for _, sc := range benchmark.QuickScenarios() {
			suite.AddScenario(sc)
		}
	}
	if *layer != "" {
		var ds []float32
		for _, f := range strings.Split(*densities, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
			if err != nil {
				log.Error(log.Fields{"density": f, "error": err.Error()}, "invalid density")
				os.Exit(2)
			}
			ds = append(ds, float32(v))
		}
		for _, sc := range benchmark.DensityScenarios(model.Name(*layer), ds...) {
			sc.Batch = *batch
			suite.AddScenario(sc)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := suite.Run(ctx); err != nil {
		log.Error(log.Fields{"error": err.Error()}, "benchmark failed")
		os.Exit(1)
	}
	path, err := suite.SaveResults()
	if err != nil {
		log.Error(log.Fields{"error": err.Error()}, "saving results failed")
		os.Exit(1)
	}
	log.Info(log.Fields{"path": path}, "results saved")
}
