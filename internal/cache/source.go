package cache

import (
	"context"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
)

// Source adapts the threshold cache to the gate-facing resolution interface
// the trend engines consume.
type Source struct {
	cache *ThresholdCache
}

var _ trend.ThresholdSource = (*Source)(nil)

// NewSource wraps a threshold cache for injection into the trend engines.
func NewSource(cache *ThresholdCache) *Source {
	return &Source{cache: cache}
}

// Threshold resolves one gate threshold and names its resolution source.
// Gate evaluation carries no context; resolution is in-memory except for a
// store read that already falls through on failure.
func (s *Source) Threshold(name, timeframe, phase string, level int) (float64, string) {
	res := s.cache.Lookup(context.Background(), name, timeframe, phase, level)
	return res.Value, res.Source
}
