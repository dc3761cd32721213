package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectNeverNil(t *testing.T) {
	m := Collect()
	assert.NotNil(t, m)
	assert.GreaterOrEqual(t, m.CPUPercent, 0.0)
	assert.GreaterOrEqual(t, m.MemoryPercent, 0.0)
}

func TestOverloaded(t *testing.T) {
	m := &Metrics{CPUPercent: 95, MemoryPercent: 40}
	assert.True(t, m.Overloaded(90, 90))

	m = &Metrics{CPUPercent: 40, MemoryPercent: 95}
	assert.True(t, m.Overloaded(90, 90))

	m = &Metrics{CPUPercent: 40, MemoryPercent: 40}
	assert.False(t, m.Overloaded(90, 90))
}

func TestToMapKeys(t *testing.T) {
	m := &Metrics{CPUPercent: 12.5, MemoryPercent: 33.3}
	flat := m.ToMap()
	assert.Equal(t, 12.5, flat["cpu_percent"])
	assert.Equal(t, 33.3, flat["memory_percent"])
	assert.Contains(t, flat, "load_1m")
	assert.Contains(t, flat, "memory_total")
}
