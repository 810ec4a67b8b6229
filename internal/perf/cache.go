// Package perf provides the bounded query/entry cache with TTL expiry,
// oldest-first eviction, hot-entry promotion, and cumulative metrics.
package perf

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/model"
	"github.com/openclaw/memcore/internal/storage"
)

// Entry is one cached payload. Timestamp only refreshes on RecordAccess,
// so eviction approximates LRU rather than guaranteeing it.
type Entry struct {
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	AccessCount int             `json:"access_count"`
	IsQuery     bool            `json:"is_query,omitempty"`
}

// Metrics are the cumulative counters persisted to the metrics file.
type Metrics struct {
	Hits         int   `json:"hits"`
	Misses       int   `json:"misses"`
	Evictions    int   `json:"evictions"`
	TotalLatency int64 `json:"total_latency_ms"`
	QueryCount   int   `json:"query_count"`
}

// Status is the cache layer's contribution to aggregate status.
type Status struct {
	CacheEnabled bool    `json:"cache_enabled"`
	Size         int     `json:"size"`
	MaxSize      int     `json:"max_size"`
	HotEntries   int     `json:"hot_entries"`
	HitRate      float64 `json:"hit_rate"`
	Evictions    int     `json:"evictions"`
	QueryCount   int     `json:"query_count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Cache is the bounded entry/query cache. Hot entries live in a separate
// always-resident map that capacity eviction never touches.
type Cache struct {
	cfg         config.PerformanceConfig
	file        *storage.File
	metricsFile *storage.File
	log         *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	hot     map[string]json.RawMessage
	metrics Metrics
	now     func() time.Time
}

// New loads the cache snapshot and metrics under root, dropping entries
// already past their TTL. Snapshot and metrics files are telemetry-grade:
// absent or corrupt files reset to empty.
func New(cfg config.PerformanceConfig, root string) *Cache {
	c := &Cache{
		cfg:         cfg,
		file:        storage.NewFile(filepath.Join(root, "core", ".cache.json")),
		metricsFile: storage.NewFile(filepath.Join(root, "core", ".metrics.json")),
		log:         slog.With("component", "perf"),
		entries:     make(map[string]*Entry),
		hot:         make(map[string]json.RawMessage),
		now:         time.Now,
	}

	var snapshot map[string]*Entry
	if _, err := c.file.Load(&snapshot); err != nil {
		c.log.Warn("cache snapshot unreadable, starting cold", "err", err)
	}
	ttl := c.ttl()
	for key, entry := range snapshot {
		if c.now().Sub(entry.Timestamp) < ttl {
			c.entries[key] = entry
		}
	}
	if _, err := c.metricsFile.Load(&c.metrics); err != nil {
		c.log.Warn("metrics unreadable, resetting", "err", err)
		c.metrics = Metrics{}
	}

	if cfg.PreloadHot {
		c.PreloadHot()
	}
	return c
}

func (c *Cache) ttl() time.Duration {
	if c.cfg.CacheTTLMS <= 0 {
		return time.Hour
	}
	return time.Duration(c.cfg.CacheTTLMS) * time.Millisecond
}

// CheckCache returns the cached payload for a query if present and fresh.
// Expired or absent keys record a miss.
func (c *Cache) CheckCache(query string) (json.RawMessage, bool) {
	if !c.cfg.CacheEnabled {
		return nil, false
	}

	key := HashQuery(query)
	c.mu.Lock()
	entry, ok := c.entries[key]
	fresh := ok && c.now().Sub(entry.Timestamp) < c.ttl()
	if fresh {
		c.metrics.Hits++
	} else {
		c.metrics.Misses++
	}
	c.mu.Unlock()

	c.saveMetrics()
	if !fresh {
		return nil, false
	}
	return entry.Data, true
}

// CacheEntry stores an indexed entry keyed by its id.
func (c *Cache) CacheEntry(e model.MemoryEntry) {
	if !c.cfg.CacheEnabled || e.ID == "" {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.log.Warn("cache marshal failed", "id", e.ID, "err", err)
		return
	}
	c.put(e.ID, data, false)
}

// CacheQueryResult stores a search result payload keyed by the query hash.
func (c *Cache) CacheQueryResult(query string, results any) {
	if !c.cfg.CacheEnabled {
		return
	}
	data, err := json.Marshal(results)
	if err != nil {
		c.log.Warn("cache marshal failed", "query", query, "err", err)
		return
	}
	c.put(HashQuery(query), data, true)
}

func (c *Cache) put(key string, data json.RawMessage, isQuery bool) {
	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.CacheMaxSize {
		c.evictOldest()
	}
	c.entries[key] = &Entry{
		Data:        data,
		Timestamp:   c.now(),
		AccessCount: 1,
		IsQuery:     isQuery,
	}
	c.mu.Unlock()
	c.saveCache()
}

// evictOldest removes the single entry with the oldest timestamp. Callers
// hold c.mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.Timestamp.Before(oldest) {
			oldestKey = key
			oldest = entry.Timestamp
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.metrics.Evictions++
	}
}

// Invalidate drops an id from the cache and the hot map, used after
// update and delete.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	delete(c.hot, id)
	c.mu.Unlock()
	c.saveCache()
}

// RecordAccess refreshes an entry's timestamp and access count, promoting
// it to the hot map once it crosses the preload threshold.
func (c *Cache) RecordAccess(id string) {
	c.mu.Lock()
	if entry, ok := c.entries[id]; ok {
		entry.AccessCount++
		entry.Timestamp = c.now()
		if entry.AccessCount >= c.cfg.PreloadThreshold {
			c.hot[id] = entry.Data
		}
	}
	c.mu.Unlock()
}

// PreloadHot promotes every cached entry at or past the preload threshold
// into the always-resident hot map.
func (c *Cache) PreloadHot() {
	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.AccessCount >= c.cfg.PreloadThreshold {
			c.hot[key] = entry.Data
		}
	}
	promoted := len(c.hot)
	c.mu.Unlock()
	c.log.Debug("hot entries preloaded", "count", promoted)
}

// HotEntry returns a hot payload by id.
func (c *Cache) HotEntry(id string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.hot[id]
	return data, ok
}

// RecordMetrics accumulates query latency counters.
func (c *Cache) RecordMetrics(duration time.Duration, resultCount int) {
	if !c.cfg.MetricsEnabled {
		return
	}
	c.mu.Lock()
	c.metrics.QueryCount++
	c.metrics.TotalLatency += duration.Milliseconds()
	c.mu.Unlock()
	c.saveMetrics()
}

// Clear empties the cache and the hot map.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.hot = make(map[string]json.RawMessage)
	c.mu.Unlock()
	c.saveCache()
}

// Size returns the number of cached entries, hot map excluded.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Status reports cache occupancy and latency counters. Averages are
// guarded against division by zero.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		CacheEnabled: c.cfg.CacheEnabled,
		Size:         len(c.entries),
		MaxSize:      c.cfg.CacheMaxSize,
		HotEntries:   len(c.hot),
		Evictions:    c.metrics.Evictions,
		QueryCount:   c.metrics.QueryCount,
	}
	if lookups := c.metrics.Hits + c.metrics.Misses; lookups > 0 {
		st.HitRate = float64(c.metrics.Hits) / float64(lookups)
	}
	if c.metrics.QueryCount > 0 {
		st.AvgLatencyMS = float64(c.metrics.TotalLatency) / float64(c.metrics.QueryCount)
	}
	return st
}

func (c *Cache) saveCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.file.Save(c.entries); err != nil {
		c.log.Debug("cache snapshot save failed", "err", err)
	}
}

func (c *Cache) saveMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.metricsFile.Save(c.metrics); err != nil {
		c.log.Debug("metrics save failed", "err", err)
	}
}

// HashQuery derives a stable cache key from free-form query text.
func HashQuery(query string) string {
	var h int32
	for _, r := range query {
		h = h<<5 - h + int32(r)
	}
	if h < 0 {
		h = -h
	}
	return fmt.Sprintf("query_%x", h)
}
