// Package cache provides caching for painted frames and memoized pipeline
// stages.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	FrameCacheSizeMB int
	FrameTTL         time.Duration
	QueryCacheSize   int
}

// Manager manages frame and query caches.
type Manager struct {
	frameCache *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.FrameTTL <= 0 {
		cfg.FrameTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	// Configure frame cache
	frameCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.FrameTTL,
		CleanWindow:        cfg.FrameTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // 512KB per frame
		HardMaxCacheSize:   cfg.FrameCacheSizeMB,
		Verbose:            false,
	}

	frameCache, err := bigcache.New(context.Background(), frameCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		frameCache: frameCache,
		queryCache: queryCache,
	}, nil
}

// GetFrame retrieves a painted frame from cache.
func (m *Manager) GetFrame(key string) ([]byte, bool) {
	data, err := m.frameCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFrame stores a painted frame in cache.
func (m *Manager) SetFrame(key string, data []byte) error {
	return m.frameCache.Set(key, data)
}

// GetQuery retrieves an encoded query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores an encoded query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PurgeVersion drops query results derived from a table version. Frame
// entries age out through the TTL; their keys embed the version so they are
// never served for a newer table.
func (m *Manager) PurgeVersion(version string) int {
	return purgePrefix(m.queryCache, version+"|")
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_cache_len": m.frameCache.Len(),
		"frame_cache_cap": m.frameCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.frameCache.Close()
}

// Memo is a bounded LRU of derived pipeline values keyed by their inputs.
type Memo[V any] struct {
	c *lru.Cache[string, V]
}

// NewMemo creates a memo holding at most size entries.
func NewMemo[V any](size int) (*Memo[V], error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memo: %w", err)
	}
	return &Memo[V]{c: c}, nil
}

// Get returns the memoized value for key.
func (m *Memo[V]) Get(key string) (V, bool) {
	return m.c.Get(key)
}

// Add stores a value.
func (m *Memo[V]) Add(key string, v V) {
	m.c.Add(key, v)
}

// Len returns the number of memoized values.
func (m *Memo[V]) Len() int {
	return m.c.Len()
}

// PurgeVersion drops every value derived from a table version.
func (m *Memo[V]) PurgeVersion(version string) int {
	return purgePrefix(m.c, version+"|")
}

func purgePrefix[V any](c *lru.Cache[string, V], prefix string) int {
	n := 0
	for _, k := range c.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.Remove(k)
			n++
		}
	}
	return n
}

// SliceKey identifies a slice of a table version.
func SliceKey(version, axis string, selectedID int) string {
	return version + "|slice:" + axis + ":" + strconv.Itoa(selectedID)
}

// ProjectionKey identifies the pixel records of a slice for one visible
// window, panel geometry and color mode.
func ProjectionKey(sliceKey string, start, end, panelWidth, panelHeight float64, colorMode string) string {
	return sliceKey + "|proj:" + formatFloat(start) + ":" + formatFloat(end) + ":" +
		formatFloat(panelWidth) + "x" + formatFloat(panelHeight) + ":" + colorMode
}

// FrameKey identifies a painted frame built from a projection.
func FrameKey(projectionKey string, width, height int) string {
	return fmt.Sprintf("%s|frame:%dx%d", projectionKey, width, height)
}

// PSTHKey identifies a histogram over a slice and window.
func PSTHKey(sliceKey string, start, end, binSeconds float64) string {
	return sliceKey + "|psth:" + formatFloat(start) + ":" + formatFloat(end) + ":" + formatFloat(binSeconds)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
