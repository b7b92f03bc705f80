package cache

import (
	"testing"
	"time"

	"qubix-server/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCache_SignificantChanges(t *testing.T) {
	mc := NewMetricsCache(10, 5, 2)
	now := time.Now()

	assert.True(t, mc.Add("p1", entities.GPUMetrics{Utilization: 50, Temperature: 60}, now), "first sample")
	assert.False(t, mc.Add("p1", entities.GPUMetrics{Utilization: 52, Temperature: 61}, now), "below thresholds")
	assert.True(t, mc.Add("p1", entities.GPUMetrics{Utilization: 56, Temperature: 61}, now), "utilisation jump")
	assert.True(t, mc.Add("p1", entities.GPUMetrics{Utilization: 56, Temperature: 63.5}, now), "temperature jump")
	assert.True(t, mc.Add("p2", entities.GPUMetrics{Utilization: 56}, now), "other provider independent")
}

func TestMetricsCache_SummaryMemory(t *testing.T) {
	mc := NewMetricsCache(10, 1, 1)
	base := time.Now()
	for i, mem := range []float64{6, 2, 10} {
		mc.Add("p1", entities.GPUMetrics{Utilization: float64(i * 10), MemoryUsedGB: mem}, base.Add(time.Duration(i)*time.Second))
	}

	s := mc.Summary("p1")
	require.Equal(t, 3, s.Samples)
	assert.Equal(t, 2.0, s.MinMemoryGB)
	assert.InDelta(t, 6, s.AvgMemoryGB, 1e-9)
	assert.Equal(t, 10.0, s.MaxMemoryGB)
}

func TestMetricsCache_WindowBounded(t *testing.T) {
	mc := NewMetricsCache(3, 1, 1)
	base := time.Now()
	for i := 0; i < 5; i++ {
		mc.Add("p1", entities.GPUMetrics{Utilization: float64(i * 10), Temperature: float64(40 + i)}, base.Add(time.Duration(i)*time.Second))
	}

	recent := mc.Recent("p1")
	require.Len(t, recent, 3)
	assert.Equal(t, 20.0, recent[0].Metrics.Utilization)
	assert.Equal(t, 40.0, recent[2].Metrics.Utilization)

	s := mc.Summary("p1")
	assert.Equal(t, 3, s.Samples)
	assert.InDelta(t, 30, s.AvgUtilization, 1e-9)
	assert.Equal(t, 20.0, s.MinUtilization)
	assert.Equal(t, 40.0, s.MaxUtilization)
	assert.Equal(t, 42.0, s.MinTemperature)
	assert.InDelta(t, 43, s.AvgTemperature, 1e-9)
	assert.Equal(t, 44.0, s.MaxTemperature)

	stats := mc.GetCacheStats()
	assert.Equal(t, 1, stats["total_providers"])
	assert.Equal(t, 3, stats["total_samples"])

	mc.Clear("p1")
	assert.Empty(t, mc.Recent("p1"))
	assert.Equal(t, 0, mc.Summary("p1").Samples)
}
