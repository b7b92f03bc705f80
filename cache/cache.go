package cache

import (
	"sync"
	"time"

	"qubix-server/entities"
)

type MetricSample struct {
	Metrics   entities.GPUMetrics `json:"metrics"`
	Timestamp time.Time           `json:"timestamp"`
}

// MetricsCache keeps a bounded window of recent GPU samples per provider.
type MetricsCache struct {
	mu            sync.RWMutex
	samples       map[string][]MetricSample // map[providerID][]samples
	lastBroadcast map[string]entities.GPUMetrics
	maxSamples    int
	utilThreshold float64 // utilisation change in percentage points
	tempThreshold float64 // temperature change in degrees C
}

func NewMetricsCache(maxSamples int, utilThreshold, tempThreshold float64) *MetricsCache {
	if maxSamples <= 0 {
		maxSamples = 120
	}
	return &MetricsCache{
		samples:       make(map[string][]MetricSample),
		lastBroadcast: make(map[string]entities.GPUMetrics),
		maxSamples:    maxSamples,
		utilThreshold: utilThreshold,
		tempThreshold: tempThreshold,
	}
}

// Add stores a sample and reports whether it differs enough from the last
// significant one to be worth pushing to dashboards.
func (mc *MetricsCache) Add(providerID string, m entities.GPUMetrics, at time.Time) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	window := append(mc.samples[providerID], MetricSample{Metrics: m, Timestamp: at})
	if len(window) > mc.maxSamples {
		window = window[len(window)-mc.maxSamples:]
	}
	mc.samples[providerID] = window

	last, seen := mc.lastBroadcast[providerID]
	if !seen ||
		abs(m.Utilization-last.Utilization) >= mc.utilThreshold ||
		abs(m.Temperature-last.Temperature) >= mc.tempThreshold {
		mc.lastBroadcast[providerID] = m
		return true
	}
	return false
}

// Recent returns a copy of the cached samples for a provider, oldest first.
func (mc *MetricsCache) Recent(providerID string) []MetricSample {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make([]MetricSample, len(mc.samples[providerID]))
	copy(out, mc.samples[providerID])
	return out
}

// Summary aggregates the cached window for one provider.
type Summary struct {
	Samples        int     `json:"samples"`
	MinUtilization float64 `json:"minUtilization"`
	AvgUtilization float64 `json:"avgUtilization"`
	MaxUtilization float64 `json:"maxUtilization"`
	MinTemperature float64 `json:"minTemperature"`
	AvgTemperature float64 `json:"avgTemperature"`
	MaxTemperature float64 `json:"maxTemperature"`
	MinMemoryGB    float64 `json:"minMemoryUsedGb"`
	AvgMemoryGB    float64 `json:"avgMemoryUsedGb"`
	MaxMemoryGB    float64 `json:"maxMemoryUsedGb"`
}

func (mc *MetricsCache) Summary(providerID string) Summary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	window := mc.samples[providerID]
	s := Summary{Samples: len(window)}
	if len(window) == 0 {
		return s
	}
	first := window[0].Metrics
	s.MinUtilization, s.MaxUtilization = first.Utilization, first.Utilization
	s.MinTemperature, s.MaxTemperature = first.Temperature, first.Temperature
	s.MinMemoryGB, s.MaxMemoryGB = first.MemoryUsedGB, first.MemoryUsedGB
	for _, p := range window {
		m := p.Metrics
		s.AvgUtilization += m.Utilization
		s.AvgTemperature += m.Temperature
		s.AvgMemoryGB += m.MemoryUsedGB
		s.MinUtilization = min(s.MinUtilization, m.Utilization)
		s.MaxUtilization = max(s.MaxUtilization, m.Utilization)
		s.MinTemperature = min(s.MinTemperature, m.Temperature)
		s.MaxTemperature = max(s.MaxTemperature, m.Temperature)
		s.MinMemoryGB = min(s.MinMemoryGB, m.MemoryUsedGB)
		s.MaxMemoryGB = max(s.MaxMemoryGB, m.MemoryUsedGB)
	}
	n := float64(len(window))
	s.AvgUtilization /= n
	s.AvgTemperature /= n
	s.AvgMemoryGB /= n
	return s
}

// GetCacheStats returns statistics about the current cache
func (mc *MetricsCache) GetCacheStats() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	total := 0
	for _, window := range mc.samples {
		total += len(window)
	}
	return map[string]interface{}{
		"total_providers":       len(mc.samples),
		"total_samples":         total,
		"max_samples":           mc.maxSamples,
		"utilization_threshold": mc.utilThreshold,
		"temperature_threshold": mc.tempThreshold,
	}
}

// Clear drops everything cached for a provider, e.g. when it goes offline.
func (mc *MetricsCache) Clear(providerID string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.samples, providerID)
	delete(mc.lastBroadcast, providerID)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
