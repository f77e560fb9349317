package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/hokkyo/monban/pkg/cache"
	"github.com/hokkyo/monban/pkg/cache/memorycache"
)

// Collector collects and aggregates metrics for the resolution engine.
type Collector struct {
	// Operation metrics
	opRequests sync.Map // map[string]*uint64 - operation -> count
	opErrors   sync.Map // map[string]*uint64 - operation -> error count
	opDuration sync.Map // map[string]*durationValue - operation -> total duration in seconds

	// Cache reference (optional, for querying cache-specific metrics)
	cache cache.Cache
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds decision cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// OperationMetrics holds per-operation request metrics.
type OperationMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// RecordRequest records an operation invocation.
func (c *Collector) RecordRequest(operation string) {
	counter := c.getOrCreateCounter(&c.opRequests, operation)
	atomic.AddUint64(counter, 1)
}

// RecordError records an operation error.
func (c *Collector) RecordError(operation string) {
	counter := c.getOrCreateCounter(&c.opErrors, operation)
	atomic.AddUint64(counter, 1)
}

// RecordDuration records the duration of an operation in seconds.
func (c *Collector) RecordDuration(operation string, durationSeconds float64) {
	val, _ := c.opDuration.LoadOrStore(operation, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}

	// Get current keys and memory if available
	if memCache, ok := c.cache.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
		result.MemoryBytes = memCache.Size()
	}

	return result
}

// GetOperationMetrics returns current operation metrics.
func (c *Collector) GetOperationMetrics() *OperationMetrics {
	result := &OperationMetrics{
		RequestCounts:        make(map[string]uint64),
		ErrorCounts:          make(map[string]uint64),
		TotalDurationSeconds: make(map[string]float64),
	}

	// Collect request counts
	c.opRequests.Range(func(key, value interface{}) bool {
		operation := key.(string)
		count := atomic.LoadUint64(value.(*uint64))
		result.RequestCounts[operation] = count
		return true
	})

	// Collect error counts
	c.opErrors.Range(func(key, value interface{}) bool {
		operation := key.(string)
		count := atomic.LoadUint64(value.(*uint64))
		result.ErrorCounts[operation] = count
		return true
	})

	// Collect duration totals
	c.opDuration.Range(func(key, value interface{}) bool {
		operation := key.(string)
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[operation] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
