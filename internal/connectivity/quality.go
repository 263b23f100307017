package connectivity

import (
	"math"
	"sync"
	"time"

	"github.com/maypok86/otter"
)

// Quality classifies the connection to the backend.
type Quality string

const (
	QualityFast    Quality = "fast"
	QualitySlow    Quality = "slow"
	QualityUnknown Quality = "unknown"
)

// endpointStats holds the TD-EWMA probe latency for a single base endpoint.
type endpointStats struct {
	Ewma        time.Duration
	LastUpdated time.Time
}

// QualityTable tracks probe latency per base endpoint. The base URL is
// mutable at runtime, so old endpoints linger; otter bounds the table and
// evicts the least recently probed ones.
type QualityTable struct {
	mu    sync.Mutex
	cache otter.Cache[string, endpointStats]

	decayWindow time.Duration
}

// NewQualityTable creates a table bounded to maxEntries endpoints.
func NewQualityTable(maxEntries int, decayWindow time.Duration) *QualityTable {
	cache, err := otter.MustBuilder[string, endpointStats](maxEntries).
		Cost(func(_ string, _ endpointStats) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("connectivity: failed to create quality table: " + err.Error())
	}
	if decayWindow <= 0 {
		decayWindow = 10 * time.Minute
	}
	return &QualityTable{cache: cache, decayWindow: decayWindow}
}

// Observe records a successful probe latency for the endpoint using TD-EWMA:
//
//	weight = exp(-dt / decayWindow)
//	newEwma = oldEwma * weight + latency * (1 - weight)
//
// The first observation seeds the EWMA with the raw latency.
func (t *QualityTable) Observe(endpoint string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	old, found := t.cache.Get(endpoint)
	if !found {
		t.cache.Set(endpoint, endpointStats{Ewma: latency, LastUpdated: now})
		return
	}

	dt := now.Sub(old.LastUpdated).Seconds()
	weight := math.Exp(-dt / t.decayWindow.Seconds())
	newEwma := time.Duration(float64(old.Ewma)*weight + float64(latency)*(1-weight))
	t.cache.Set(endpoint, endpointStats{Ewma: newEwma, LastUpdated: now})
}

// Classify returns the quality belief for the endpoint. Endpoints never
// probed successfully are unknown, not slow.
func (t *QualityTable) Classify(endpoint string, fastThreshold time.Duration) Quality {
	stats, found := t.cache.Get(endpoint)
	if !found {
		return QualityUnknown
	}
	if stats.Ewma <= fastThreshold {
		return QualityFast
	}
	return QualitySlow
}

// Ewma returns the current EWMA for an endpoint, if present.
func (t *QualityTable) Ewma(endpoint string) (time.Duration, bool) {
	stats, found := t.cache.Get(endpoint)
	if !found {
		return 0, false
	}
	return stats.Ewma, true
}

// Forget drops the belief for an endpoint. Used when the base URL changes.
func (t *QualityTable) Forget(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Delete(endpoint)
}

// Close releases resources held by the underlying cache.
func (t *QualityTable) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Close()
}
