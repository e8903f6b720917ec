// Package benchmark - Functionality for benchmarking the detection layers on
// synthetic network outputs.
package benchmark

import "time"

// PerformanceMetrics captures the measurements of one scenario run.
type PerformanceMetrics struct {
	Scenario       Scenario      `json:"scenario"`
	Timestamp      time.Time     `json:"timestamp"`
	TotalDuration  time.Duration `json:"total_duration"`
	MeanDuration   time.Duration `json:"mean_duration"`
	CallsPerSecond float64       `json:"calls_per_second"`
	RecordCount    int           `json:"record_count"`
	MemoryStats    MemoryMetrics `json:"memory_stats"`
	CPUStats       CPUMetrics    `json:"cpu_stats"`
	ErrorRate      float64       `json:"error_rate"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU usage statistics
type CPUMetrics struct {
	NumCPU     int `json:"num_cpu"`
	GOMAXPROCS int `json:"gomaxprocs"`
}
