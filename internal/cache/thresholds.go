// Package cache provides the injected read-through threshold cache that
// serves every gate threshold the trend engines evaluate.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/metrics"
)

// Resolution sources, recorded on every served threshold.
const (
	SourceRuntime   = "runtime"
	SourcePersisted = "persisted"
	SourceDefault   = "default"
)

// ThresholdStore is the persisted resolution layer: the defaults table with
// any active override multiplier already applied. Implemented by the Postgres
// repository; specificity resolution happens store-side.
type ThresholdStore interface {
	ResolveThreshold(ctx context.Context, name, timeframe, phase string, level int) (float64, bool, error)
}

// Resolution is one resolved threshold with its provenance.
type Resolution struct {
	Name       string    `json:"name"`
	Timeframe  string    `json:"timeframe,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Level      int       `json:"level,omitempty"`
	Value      float64   `json:"value"`
	Source     string    `json:"source"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// RuntimeOverride is one operator-set value that trumps every other layer.
type RuntimeOverride struct {
	Name      string  `json:"name"`
	Timeframe string  `json:"timeframe,omitempty"`
	Phase     string  `json:"phase,omitempty"`
	Level     int     `json:"level,omitempty"`
	Value     float64 `json:"value"`
}

// ThresholdCache resolves gate thresholds read-through with a TTL.
// Resolution precedence: runtime override, then the persisted store, then the
// compiled-in defaults. Store errors fall through to the next layer; a lookup
// never blocks the state machine and never fails.
type ThresholdCache struct {
	store  ThresholdStore
	cfg    config.ThresholdConfig
	logger zerolog.Logger

	mu       sync.RWMutex
	entries  map[string]Resolution
	runtime  map[string]RuntimeOverride
	defaults map[string]float64
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// NewThresholdCache creates a threshold cache over the given persisted store.
// A nil store disables the persisted layer, leaving runtime overrides and the
// compiled defaults.
func NewThresholdCache(store ThresholdStore, cfg config.ThresholdConfig, logger zerolog.Logger) (*ThresholdCache, error) {
	defaults, err := loadCompiledDefaults()
	if err != nil {
		return nil, err
	}
	return &ThresholdCache{
		store:    store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "ThresholdCache").Logger(),
		entries:  make(map[string]Resolution),
		runtime:  make(map[string]RuntimeOverride),
		defaults: defaults,
	}, nil
}

// ============================================================================
// LOOKUP
// ============================================================================

// Lookup resolves one threshold. A fresh cached entry is served as-is;
// otherwise the layers are walked most-specific-first and the result is
// cached under the full key for the TTL.
func (c *ThresholdCache) Lookup(ctx context.Context, name, timeframe, phase string, level int) Resolution {
	key := thresholdKey(name, timeframe, phase, level)

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Since(cached.ResolvedAt) < c.cfg.CacheTTL {
		c.hits.Add(1)
		metrics.ThresholdLookups.WithLabelValues("hit", cached.Source).Inc()
		return cached
	}

	res := c.resolve(ctx, name, timeframe, phase, level)
	c.misses.Add(1)
	metrics.ThresholdLookups.WithLabelValues("miss", res.Source).Inc()

	c.mu.Lock()
	c.entries[key] = res
	c.mu.Unlock()
	return res
}

// resolve walks runtime, persisted, then compiled defaults.
func (c *ThresholdCache) resolve(ctx context.Context, name, timeframe, phase string, level int) Resolution {
	res := Resolution{
		Name:       name,
		Timeframe:  timeframe,
		Phase:      phase,
		Level:      level,
		ResolvedAt: time.Now().UTC(),
	}
	keys := fallbackKeys(name, timeframe, phase, level)

	c.mu.RLock()
	for _, k := range keys {
		if ov, ok := c.runtime[k]; ok {
			c.mu.RUnlock()
			res.Value = ov.Value
			res.Source = SourceRuntime
			return res
		}
	}
	c.mu.RUnlock()

	if c.store != nil {
		value, found, err := c.store.ResolveThreshold(ctx, name, timeframe, phase, level)
		if err != nil {
			// The store never blocks resolution; fall through to defaults.
			c.logger.Debug().Err(err).
				Str("name", name).
				Str("phase", phase).
				Msg("Persisted threshold lookup failed, falling back to defaults")
		} else if found {
			res.Value = value
			res.Source = SourcePersisted
			return res
		}
	}

	res.Source = SourceDefault
	for _, k := range keys {
		if v, ok := c.defaults[k]; ok {
			res.Value = v
			return res
		}
	}
	c.logger.Warn().Str("name", name).Msg("Threshold not found in any layer, serving zero")
	return res
}

// ============================================================================
// RUNTIME OVERRIDES
// ============================================================================

// SetRuntime installs an operator override at the given specificity and
// drops resolved entries so it takes effect on the next lookup.
func (c *ThresholdCache) SetRuntime(name, timeframe, phase string, level int, value float64) {
	key := thresholdKey(name, timeframe, phase, level)

	c.mu.Lock()
	c.runtime[key] = RuntimeOverride{
		Name:      name,
		Timeframe: timeframe,
		Phase:     phase,
		Level:     level,
		Value:     value,
	}
	c.entries = make(map[string]Resolution)
	c.mu.Unlock()

	c.logger.Info().
		Str("name", name).
		Str("timeframe", timeframe).
		Str("phase", phase).
		Int("level", level).
		Float64("value", value).
		Msg("Runtime threshold override set")
}

// ClearRuntime removes an operator override. Returns whether one existed.
func (c *ThresholdCache) ClearRuntime(name, timeframe, phase string, level int) bool {
	key := thresholdKey(name, timeframe, phase, level)

	c.mu.Lock()
	_, existed := c.runtime[key]
	delete(c.runtime, key)
	c.entries = make(map[string]Resolution)
	c.mu.Unlock()

	if existed {
		c.logger.Info().
			Str("name", name).
			Str("phase", phase).
			Msg("Runtime threshold override cleared")
	}
	return existed
}

// RuntimeOverrides returns the active operator overrides, sorted by key.
func (c *ThresholdCache) RuntimeOverrides() []RuntimeOverride {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.runtime))
	for k := range c.runtime {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]RuntimeOverride, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.runtime[k])
	}
	return out
}

// ============================================================================
// REFRESH & OBSERVABILITY
// ============================================================================

// Refresh drops every resolved entry so the next lookups re-resolve against
// the store. Runtime overrides survive. Returns the number dropped.
func (c *ThresholdCache) Refresh() int {
	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = make(map[string]Resolution)
	c.mu.Unlock()

	c.logger.Debug().Int("dropped", dropped).Msg("Threshold cache refreshed")
	return dropped
}

// Resolved returns the currently cached resolutions, sorted by key. Entries
// past the TTL are included; they age out on their next lookup.
func (c *ThresholdCache) Resolved() []Resolution {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Resolution, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.entries[k])
	}
	return out
}

// CacheStats reports cache health for the ops API.
type CacheStats struct {
	Entries          int    `json:"entries"`
	RuntimeOverrides int    `json:"runtime_overrides"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	TTL              string `json:"ttl"`
}

// Stats returns current cache statistics.
func (c *ThresholdCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Entries:          len(c.entries),
		RuntimeOverrides: len(c.runtime),
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		TTL:              c.cfg.CacheTTL.String(),
	}
}

// ============================================================================
// KEYS
// ============================================================================

// thresholdKey renders the canonical cache key at one specificity.
func thresholdKey(name, timeframe, phase string, level int) string {
	return fmt.Sprintf("%s|%s|%s|%d", name, timeframe, phase, level)
}

// fallbackKeys returns candidate keys most-specific-first. Rows stored
// without a timeframe apply to every timeframe, so each tier is tried with
// the lookup timeframe and then the wildcard.
func fallbackKeys(name, timeframe, phase string, level int) []string {
	keys := make([]string, 0, 6)
	add := func(tf, ph string, lv int) {
		keys = append(keys, thresholdKey(name, tf, ph, lv))
	}
	add(timeframe, phase, level)
	if timeframe != "" {
		add("", phase, level)
	}
	if level != 0 {
		add(timeframe, phase, 0)
		if timeframe != "" {
			add("", phase, 0)
		}
	}
	if phase != "" {
		add(timeframe, "", 0)
		if timeframe != "" {
			add("", "", 0)
		}
	}
	return keys
}
