package trend

import (
	"testing"
	"time"
)

// TestTrendStrengthRange verifies the composite score stays in [0,1] across
// aligned, inverted and degenerate stacks.
func TestTrendStrengthRange(t *testing.T) {
	inputs := []TransitionInput{
		bullInput(),
		bearInput(),
		{Price: 100, EMAs: EMAStack{Fast: 100, Mid: 100, Slow: 100, Long: 100}},
		{},
	}

	for i, in := range inputs {
		s := TrendStrength(in)
		if s < 0 || s > 1 {
			t.Errorf("Input %d: strength %f out of [0,1]", i, s)
		}
	}
}

// TestTrendStrengthOrdersRegimes verifies a fully aligned rising stack scores
// well above a bearish one.
func TestTrendStrengthOrdersRegimes(t *testing.T) {
	bull := TrendStrength(bullInput())
	bear := TrendStrength(bearInput())

	if bull <= bear {
		t.Errorf("Expected bull strength > bear strength, got %f <= %f", bull, bear)
	}
	if bull < 0.7 {
		t.Errorf("Expected strong score for full alignment, got %f", bull)
	}
	if bear > 0.3 {
		t.Errorf("Expected weak score for bearish stack, got %f", bear)
	}
}

// TestSupportLevelsClustering verifies nearby lows merge into averaged levels
// ordered descending.
func TestSupportLevelsClustering(t *testing.T) {
	bars := []Bar{
		{Low: 100.0},
		{Low: 100.5},
		{Low: 99.8},
		{Low: 105.0},
		{Low: 104.8},
	}

	levels := supportLevels(bars, 0.01)
	if len(levels) != 2 {
		t.Fatalf("Expected 2 clustered levels, got %d: %v", len(levels), levels)
	}
	if levels[0] < levels[1] {
		t.Error("Expected levels ordered descending")
	}
	if levels[0] < 104.8 || levels[0] > 105.0 {
		t.Errorf("Expected upper level near 104.9, got %f", levels[0])
	}
	if levels[1] < 99.8 || levels[1] > 100.5 {
		t.Errorf("Expected lower level near 100.1, got %f", levels[1])
	}
}

// TestSupportLevelsIgnoresBadLows verifies zero and negative lows are
// dropped rather than clustered.
func TestSupportLevelsIgnoresBadLows(t *testing.T) {
	bars := []Bar{{Low: 0}, {Low: -5}, {Low: 100}}

	levels := supportLevels(bars, 0.01)
	if len(levels) != 1 || levels[0] != 100 {
		t.Errorf("Expected single level 100, got %v", levels)
	}

	if got := supportLevels(nil, 0.01); got != nil {
		t.Errorf("Expected nil levels for no bars, got %v", got)
	}
}

// TestIsPriceAtSupport verifies the tolerance test around a level.
func TestIsPriceAtSupport(t *testing.T) {
	levels := []float64{100}

	if !isPriceAtSupport(100.5, levels, 0.01) {
		t.Error("Expected price within tolerance to match support")
	}
	if isPriceAtSupport(103, levels, 0.01) {
		t.Error("Expected price outside tolerance to miss support")
	}
	if isPriceAtSupport(100, nil, 0.01) {
		t.Error("Expected no match against empty levels")
	}
}

// TestComputeScopeSessionBuckets verifies the UTC session split.
func TestComputeScopeSessionBuckets(t *testing.T) {
	cases := []struct {
		hour   int
		bucket string
	}{
		{0, "asia"}, {7, "asia"}, {8, "eu"}, {15, "eu"}, {16, "us"}, {23, "us"},
	}

	for _, tc := range cases {
		ts := time.Date(2025, 3, 10, tc.hour, 0, 0, 0, time.UTC)
		scope := computeScope(nil, ts)
		if scope["session"] != tc.bucket {
			t.Errorf("Hour %d: expected session %s, got %s", tc.hour, tc.bucket, scope["session"])
		}
	}
}

// TestComputeScopeOmitsUncomputableDimensions verifies short history yields a
// session-only scope instead of guessed buckets.
func TestComputeScopeOmitsUncomputableDimensions(t *testing.T) {
	scope := computeScope([]Bar{{Close: 100, Volume: 10}}, testTime())

	if _, ok := scope["volatility"]; ok {
		t.Error("Volatility bucket should be omitted with short history")
	}
	if _, ok := scope["liquidity"]; ok {
		t.Error("Liquidity bucket should be omitted with short history")
	}
	if _, ok := scope["session"]; !ok {
		t.Error("Session bucket should always be present")
	}
}

// TestComputeScopeBucketsVolatilityAndLiquidity verifies full-history bars
// produce all three dimensions with the expected buckets.
func TestComputeScopeBucketsVolatilityAndLiquidity(t *testing.T) {
	bars := make([]Bar, scopeLookback+1)
	for i := range bars {
		// Flat closes and steady volume: low volatility, normal liquidity.
		bars[i] = Bar{Close: 100, Volume: 50, Timestamp: testTime().Add(minutes(i))}
	}

	scope := computeScope(bars, testTime())
	if scope["volatility"] != "low" {
		t.Errorf("Expected low volatility, got %s", scope["volatility"])
	}
	if scope["liquidity"] != "normal" {
		t.Errorf("Expected normal liquidity, got %s", scope["liquidity"])
	}

	// A final-volume spike flips the liquidity bucket.
	bars[len(bars)-1].Volume = 500
	scope = computeScope(bars, testTime())
	if scope["liquidity"] != "surge" {
		t.Errorf("Expected surge liquidity, got %s", scope["liquidity"])
	}
}
