package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
)

// ============================================================================
// MOCKS & HELPERS
// ============================================================================

// mockThresholdStore serves persisted values keyed by threshold name and
// counts resolution calls. Store-side specificity belongs to the repository
// and is tested there.
type mockThresholdStore struct {
	mu     sync.Mutex
	values map[string]float64
	err    error
	calls  int
}

func (m *mockThresholdStore) ResolveThreshold(ctx context.Context, name, timeframe, phase string, level int) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, false, m.err
	}
	v, ok := m.values[name]
	return v, ok, nil
}

func (m *mockThresholdStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestCache(t *testing.T, store ThresholdStore, ttl time.Duration) *ThresholdCache {
	t.Helper()
	c, err := NewThresholdCache(store, config.ThresholdConfig{CacheTTL: ttl}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewThresholdCache failed: %v", err)
	}
	return c
}

// ============================================================================
// RESOLUTION TESTS
// ============================================================================

// TestLookupCompiledDefaults checks the embedded floor of the resolution
// chain, including the phase-specific rows.
func TestLookupCompiledDefaults(t *testing.T) {
	c := newTestCache(t, nil, 5*time.Minute)
	ctx := context.Background()

	tests := []struct {
		name  string
		phase string
		want  float64
	}{
		{trend.ThresholdTSMin, "S1", 0.60},
		{trend.ThresholdTSMin, "S2", 0.55},
		{trend.ThresholdTSMin, "S3", 0.55},
		{trend.ThresholdHalo, "S3", 0.015},
		{trend.ThresholdSlopeMin, "S1", -0.001},
		{trend.ThresholdSlopeMin, "S2", 0.0},
		{trend.ThresholdWindowBars, "S1", 6},
		{trend.ThresholdWindowBars, "S3", 12},
		{trend.ThresholdTrimTSMax, "S3", 0.45},
		{trend.ThresholdExitSpreadMin, "S0", 0.0},
	}
	for _, tt := range tests {
		res := c.Lookup(ctx, tt.name, "1h", tt.phase, 1)
		if res.Value != tt.want {
			t.Errorf("%s@%s = %v, want %v", tt.name, tt.phase, res.Value, tt.want)
		}
		if res.Source != SourceDefault {
			t.Errorf("%s@%s source = %q, want %q", tt.name, tt.phase, res.Source, SourceDefault)
		}
	}
}

// TestLookupPersistedBeatsDefault checks that a store hit outranks the
// compiled default.
func TestLookupPersistedBeatsDefault(t *testing.T) {
	store := &mockThresholdStore{values: map[string]float64{trend.ThresholdTSMin: 0.72}}
	c := newTestCache(t, store, 5*time.Minute)

	res := c.Lookup(context.Background(), trend.ThresholdTSMin, "1h", "S2", 1)
	if res.Value != 0.72 {
		t.Errorf("value = %v, want persisted 0.72", res.Value)
	}
	if res.Source != SourcePersisted {
		t.Errorf("source = %q, want %q", res.Source, SourcePersisted)
	}
}

// TestLookupRuntimeBeatsPersisted checks the full precedence: a runtime
// override set at lower specificity still wins via the fallback chain.
func TestLookupRuntimeBeatsPersisted(t *testing.T) {
	store := &mockThresholdStore{values: map[string]float64{trend.ThresholdTSMin: 0.72}}
	c := newTestCache(t, store, 5*time.Minute)
	c.SetRuntime(trend.ThresholdTSMin, "", "S1", 0, 0.9)

	res := c.Lookup(context.Background(), trend.ThresholdTSMin, "1h", "S1", 1)
	if res.Value != 0.9 {
		t.Errorf("value = %v, want runtime 0.9", res.Value)
	}
	if res.Source != SourceRuntime {
		t.Errorf("source = %q, want %q", res.Source, SourceRuntime)
	}

	// Other phases are untouched by the scoped override.
	res = c.Lookup(context.Background(), trend.ThresholdTSMin, "1h", "S2", 1)
	if res.Source != SourcePersisted || res.Value != 0.72 {
		t.Errorf("S2 resolution = (%v, %s), want persisted 0.72", res.Value, res.Source)
	}
}

// TestLookupStoreErrorFallsThrough checks that a failing store never
// surfaces: resolution lands on the compiled default.
func TestLookupStoreErrorFallsThrough(t *testing.T) {
	store := &mockThresholdStore{err: errors.New("connection refused")}
	c := newTestCache(t, store, 5*time.Minute)

	res := c.Lookup(context.Background(), trend.ThresholdTSMin, "1h", "S1", 1)
	if res.Value != 0.60 {
		t.Errorf("value = %v, want default 0.60", res.Value)
	}
	if res.Source != SourceDefault {
		t.Errorf("source = %q, want %q", res.Source, SourceDefault)
	}
}

// TestLookupUnknownNameServesZero checks the degenerate case: an unknown
// threshold resolves to zero with default provenance rather than failing.
func TestLookupUnknownNameServesZero(t *testing.T) {
	c := newTestCache(t, nil, 5*time.Minute)

	res := c.Lookup(context.Background(), "no_such_threshold", "1h", "S1", 1)
	if res.Value != 0 || res.Source != SourceDefault {
		t.Errorf("resolution = (%v, %s), want (0, default)", res.Value, res.Source)
	}
}

// ============================================================================
// TTL & INVALIDATION TESTS
// ============================================================================

// TestLookupCachesWithinTTL checks that repeat lookups inside the TTL are
// served from cache without touching the store.
func TestLookupCachesWithinTTL(t *testing.T) {
	store := &mockThresholdStore{values: map[string]float64{trend.ThresholdHalo: 0.02}}
	c := newTestCache(t, store, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Lookup(ctx, trend.ThresholdHalo, "1h", "S3", 1)
	}
	if store.callCount() != 1 {
		t.Errorf("store resolved %d times for 5 lookups, want 1", store.callCount())
	}

	stats := c.Stats()
	if stats.Hits != 4 || stats.Misses != 1 {
		t.Errorf("stats = %d hits / %d misses, want 4/1", stats.Hits, stats.Misses)
	}
}

// TestLookupExpiresAfterTTL checks that a stale entry re-resolves.
func TestLookupExpiresAfterTTL(t *testing.T) {
	store := &mockThresholdStore{values: map[string]float64{trend.ThresholdHalo: 0.02}}
	c := newTestCache(t, store, time.Nanosecond)
	ctx := context.Background()

	c.Lookup(ctx, trend.ThresholdHalo, "1h", "S3", 1)
	time.Sleep(time.Millisecond)
	c.Lookup(ctx, trend.ThresholdHalo, "1h", "S3", 1)

	if store.callCount() != 2 {
		t.Errorf("store resolved %d times across the TTL boundary, want 2", store.callCount())
	}
}

// TestRefreshDropsResolvedEntries checks that Refresh forces re-resolution
// but keeps runtime overrides.
func TestRefreshDropsResolvedEntries(t *testing.T) {
	store := &mockThresholdStore{values: map[string]float64{trend.ThresholdHalo: 0.02}}
	c := newTestCache(t, store, 5*time.Minute)
	ctx := context.Background()
	c.SetRuntime(trend.ThresholdTSMin, "", "", 0, 0.8)

	c.Lookup(ctx, trend.ThresholdHalo, "1h", "S3", 1)
	if dropped := c.Refresh(); dropped != 1 {
		t.Errorf("Refresh dropped %d entries, want 1", dropped)
	}
	c.Lookup(ctx, trend.ThresholdHalo, "1h", "S3", 1)
	if store.callCount() != 2 {
		t.Errorf("store resolved %d times around a refresh, want 2", store.callCount())
	}

	res := c.Lookup(ctx, trend.ThresholdTSMin, "1h", "S1", 1)
	if res.Source != SourceRuntime {
		t.Error("runtime override did not survive Refresh")
	}
}

// TestSetRuntimeTakesEffectImmediately checks that installing an override
// invalidates already-resolved entries.
func TestSetRuntimeTakesEffectImmediately(t *testing.T) {
	store := &mockThresholdStore{values: map[string]float64{trend.ThresholdTSMin: 0.72}}
	c := newTestCache(t, store, 5*time.Minute)
	ctx := context.Background()

	before := c.Lookup(ctx, trend.ThresholdTSMin, "1h", "S2", 1)
	if before.Source != SourcePersisted {
		t.Fatalf("priming lookup source = %q, want persisted", before.Source)
	}

	c.SetRuntime(trend.ThresholdTSMin, "", "", 0, 0.65)
	after := c.Lookup(ctx, trend.ThresholdTSMin, "1h", "S2", 1)
	if after.Value != 0.65 || after.Source != SourceRuntime {
		t.Errorf("post-override resolution = (%v, %s), want (0.65, runtime)", after.Value, after.Source)
	}
}

// TestClearRuntimeRevertsResolution checks removal and the revert to the
// next layer down.
func TestClearRuntimeRevertsResolution(t *testing.T) {
	store := &mockThresholdStore{values: map[string]float64{trend.ThresholdTSMin: 0.72}}
	c := newTestCache(t, store, 5*time.Minute)
	ctx := context.Background()
	c.SetRuntime(trend.ThresholdTSMin, "", "", 0, 0.65)

	if !c.ClearRuntime(trend.ThresholdTSMin, "", "", 0) {
		t.Fatal("ClearRuntime reported no override to remove")
	}
	if c.ClearRuntime(trend.ThresholdTSMin, "", "", 0) {
		t.Error("second ClearRuntime still found an override")
	}

	res := c.Lookup(ctx, trend.ThresholdTSMin, "1h", "S2", 1)
	if res.Value != 0.72 || res.Source != SourcePersisted {
		t.Errorf("post-clear resolution = (%v, %s), want persisted 0.72", res.Value, res.Source)
	}
}

// TestRuntimeOverridesListing checks the sorted listing used by the ops API.
func TestRuntimeOverridesListing(t *testing.T) {
	c := newTestCache(t, nil, 5*time.Minute)
	c.SetRuntime(trend.ThresholdTSMin, "", "S1", 0, 0.9)
	c.SetRuntime(trend.ThresholdHalo, "4h", "S3", 1, 0.02)

	overrides := c.RuntimeOverrides()
	if len(overrides) != 2 {
		t.Fatalf("expected 2 runtime overrides, got %d", len(overrides))
	}
	if overrides[0].Name != trend.ThresholdHalo || overrides[1].Name != trend.ThresholdTSMin {
		t.Errorf("overrides not sorted by key: %s then %s", overrides[0].Name, overrides[1].Name)
	}
	if overrides[0].Timeframe != "4h" || overrides[0].Level != 1 {
		t.Errorf("halo override lost its key parts: %+v", overrides[0])
	}
}

// ============================================================================
// KEY CHAIN TESTS
// ============================================================================

// TestFallbackKeyChain pins the specificity walk, including the wildcard
// timeframe interleave.
func TestFallbackKeyChain(t *testing.T) {
	got := fallbackKeys("ts_min", "1h", "S1", 1)
	want := []string{
		"ts_min|1h|S1|1",
		"ts_min||S1|1",
		"ts_min|1h|S1|0",
		"ts_min||S1|0",
		"ts_min|1h||0",
		"ts_min|||0",
	}
	if len(got) != len(want) {
		t.Fatalf("chain length = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chain[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// A wildcard lookup produces no duplicate tiers.
	got = fallbackKeys("halo", "", "S3", 0)
	want = []string{"halo||S3|0", "halo|||0"}
	if len(got) != len(want) {
		t.Fatalf("wildcard chain = %v, want %v", got, want)
	}
}

// TestSourceAdapter checks the engine-facing adapter surfaces value and
// provenance together.
func TestSourceAdapter(t *testing.T) {
	c := newTestCache(t, nil, 5*time.Minute)
	src := NewSource(c)

	value, from := src.Threshold(trend.ThresholdTSMin, "1h", "S1", 1)
	if value != 0.60 {
		t.Errorf("adapter value = %v, want 0.60", value)
	}
	if from != SourceDefault {
		t.Errorf("adapter source = %q, want %q", from, SourceDefault)
	}
}

// TestStatsCounts checks the observability snapshot.
func TestStatsCounts(t *testing.T) {
	c := newTestCache(t, nil, 5*time.Minute)
	ctx := context.Background()
	c.SetRuntime(trend.ThresholdTSMin, "", "", 0, 0.8)
	c.Lookup(ctx, trend.ThresholdHalo, "1h", "S3", 1)
	c.Lookup(ctx, trend.ThresholdHalo, "1h", "S3", 1)

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
	if stats.RuntimeOverrides != 1 {
		t.Errorf("runtime_overrides = %d, want 1", stats.RuntimeOverrides)
	}
	if stats.TTL != "5m0s" {
		t.Errorf("ttl = %q, want 5m0s", stats.TTL)
	}
}
