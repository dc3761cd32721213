// Package system samples host-level metrics that accompany health reports.
package system

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

type Metrics struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryUsed    uint64
	MemoryTotal   uint64
	Load1m        float64
	Load5m        float64
	Load15m       float64
}

// Collect samples the host. Individual probe failures are tolerated; the
// corresponding fields stay zero.
func Collect() *Metrics {
	m := &Metrics{}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		m.CPUPercent = cpuPercent[0]
	}

	if memStats, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = memStats.UsedPercent
		m.MemoryUsed = memStats.Used
		m.MemoryTotal = memStats.Total
	}

	if loadStats, err := load.Avg(); err == nil {
		m.Load1m = loadStats.Load1
		m.Load5m = loadStats.Load5
		m.Load15m = loadStats.Load15
	}

	return m
}

// Overloaded reports whether CPU or memory usage is at or above the given
// percentage limits.
func (m *Metrics) Overloaded(cpuLimit, memLimit float64) bool {
	return m.CPUPercent >= cpuLimit || m.MemoryPercent >= memLimit
}

// ToMap flattens the sample for report embedding.
func (m *Metrics) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"cpu_percent":    m.CPUPercent,
		"memory_percent": m.MemoryPercent,
		"memory_used":    m.MemoryUsed,
		"memory_total":   m.MemoryTotal,
		"load_1m":        m.Load1m,
		"load_5m":        m.Load5m,
		"load_15m":       m.Load15m,
	}
}
