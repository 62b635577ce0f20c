// Package cache holds the bounded in-memory caches of loaded glyphs and of
// glyph instances resolved at a location.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/developer-mesh/fontedit/pkg/glyph"
	"github.com/developer-mesh/fontedit/pkg/observability"
)

// Config holds cache sizes.
type Config struct {
	GlyphSize    int `mapstructure:"glyph_size" validate:"gte=0"`
	InstanceSize int `mapstructure:"instance_size" validate:"gte=0"`
}

// DefaultConfig returns the default cache sizes.
func DefaultConfig() Config {
	return Config{GlyphSize: 2000, InstanceSize: 4000}
}

type instanceKey struct {
	glyphName string
	location  string
}

// GlyphCache is an LRU of glyph documents plus an LRU of instances. An index
// from glyph name to instance keys lets a glyph's instances be dropped
// together. Evicting a glyph drops its instances.
type GlyphCache struct {
	glyphs    *lru.Cache[string, map[string]any]
	instances *lru.Cache[instanceKey, *glyph.Instance]

	mu             sync.Mutex
	instanceKeys   map[string]map[instanceKey]struct{}
	onGlyphEvicted func(name string)

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewGlyphCache creates a glyph cache.
func NewGlyphCache(cfg Config, logger observability.Logger, metrics observability.MetricsClient) (*GlyphCache, error) {
	defaults := DefaultConfig()
	if cfg.GlyphSize <= 0 {
		cfg.GlyphSize = defaults.GlyphSize
	}
	if cfg.InstanceSize <= 0 {
		cfg.InstanceSize = defaults.InstanceSize
	}

	c := &GlyphCache{
		instanceKeys: make(map[string]map[instanceKey]struct{}),
		logger:       observability.OrNoop(logger).WithPrefix("glyph-cache"),
		metrics:      observability.MetricsOrNoop(metrics),
	}

	glyphs, err := lru.NewWithEvict[string, map[string]any](cfg.GlyphSize, c.glyphEvicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create glyph cache: %w", err)
	}
	instances, err := lru.NewWithEvict[instanceKey, *glyph.Instance](cfg.InstanceSize, c.instanceEvicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance cache: %w", err)
	}
	c.glyphs = glyphs
	c.instances = instances
	return c, nil
}

// SetOnGlyphEvicted registers a hook called after a glyph left the cache,
// by eviction or removal.
func (c *GlyphCache) SetOnGlyphEvicted(fn func(name string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGlyphEvicted = fn
}

// GetGlyph returns a cached glyph document.
func (c *GlyphCache) GetGlyph(name string) (map[string]any, bool) {
	start := time.Now()
	g, ok := c.glyphs.Get(name)
	c.metrics.RecordCacheOperation("get_glyph", ok, time.Since(start))
	return g, ok
}

// HasGlyph reports whether a glyph is cached without touching its recency.
func (c *GlyphCache) HasGlyph(name string) bool {
	return c.glyphs.Contains(name)
}

// PutGlyph caches a glyph document. Replacing a glyph drops its instances.
func (c *GlyphCache) PutGlyph(name string, g map[string]any) {
	c.InvalidateInstances(name)
	c.glyphs.Add(name, g)
}

// RemoveGlyph drops a glyph and its instances.
func (c *GlyphCache) RemoveGlyph(name string) bool {
	return c.glyphs.Remove(name)
}

// GlyphNames returns the names of all cached glyphs, sorted.
func (c *GlyphCache) GlyphNames() []string {
	names := c.glyphs.Keys()
	sort.Strings(names)
	return names
}

// Glyphs returns the cached glyph documents by name. The documents are
// shared with the cache.
func (c *GlyphCache) Glyphs() map[string]any {
	result := make(map[string]any)
	for _, name := range c.glyphs.Keys() {
		if g, ok := c.glyphs.Peek(name); ok {
			result[name] = g
		}
	}
	return result
}

// GetInstance returns a cached instance.
func (c *GlyphCache) GetInstance(name string, location glyph.Location) (*glyph.Instance, bool) {
	start := time.Now()
	inst, ok := c.instances.Get(instanceKey{glyphName: name, location: location.Key()})
	c.metrics.RecordCacheOperation("get_instance", ok, time.Since(start))
	return inst, ok
}

// PutInstance caches an instance.
func (c *GlyphCache) PutInstance(inst *glyph.Instance) {
	key := instanceKey{glyphName: inst.GlyphName, location: inst.Location.Key()}
	c.mu.Lock()
	keys, ok := c.instanceKeys[key.glyphName]
	if !ok {
		keys = make(map[instanceKey]struct{})
		c.instanceKeys[key.glyphName] = keys
	}
	keys[key] = struct{}{}
	c.mu.Unlock()
	c.instances.Add(key, inst)
}

// InvalidateInstances drops all cached instances of a glyph.
func (c *GlyphCache) InvalidateInstances(name string) {
	c.mu.Lock()
	keys := c.instanceKeys[name]
	delete(c.instanceKeys, name)
	c.mu.Unlock()

	for key := range keys {
		c.instances.Remove(key)
	}
}

// Len returns the number of cached glyphs and instances.
func (c *GlyphCache) Len() (glyphs, instances int) {
	return c.glyphs.Len(), c.instances.Len()
}

// Purge empties the cache.
func (c *GlyphCache) Purge() {
	c.glyphs.Purge()
	c.instances.Purge()
}

func (c *GlyphCache) glyphEvicted(name string, _ map[string]any) {
	c.InvalidateInstances(name)

	c.mu.Lock()
	hook := c.onGlyphEvicted
	c.mu.Unlock()

	c.logger.Debug("glyph left cache", map[string]interface{}{"glyph": name})
	if hook != nil {
		hook(name)
	}
}

func (c *GlyphCache) instanceEvicted(key instanceKey, _ *glyph.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.instanceKeys[key.glyphName]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.instanceKeys, key.glyphName)
	}
}

func (c *GlyphCache) indexedInstances(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instanceKeys[name])
}
