package posture

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/overrides"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// ============ Test Helpers ============

type mockStrengthSource struct {
	mu    sync.Mutex
	rows  []overrides.Override
	err   error
	calls int
}

func (m *mockStrengthSource) ActiveOverrides(ctx context.Context) ([]overrides.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.rows, nil
}

func (m *mockStrengthSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockStrengthSource) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func testPostureConfig() config.PostureConfig {
	return config.PostureConfig{
		Drivers: []config.DriverConfig{
			{Name: "btc_trend", Weight: 0.15},
			{Name: "eth_trend", Weight: 0.10},
			{Name: "btc_dominance", Weight: 0.12, Inverse: true},
			{Name: "stable_flow", Weight: 0.08, Inverse: true},
		},
		StrengthGain:    0.5,
		StrengthCap:     0.25,
		EmergencyFactor: 2.0,
		StrengthRefresh: 5 * time.Minute,
	}
}

func strengthRow(pattern string, category patterns.ActionCategory, multiplier, confidence float64) overrides.Override {
	return overrides.Override{
		Key: overrides.OverrideKey{
			PatternKey: pattern,
			Category:   category,
			Kind:       overrides.KindStrength,
		},
		Multiplier: multiplier,
		Confidence: confidence,
		LessonN:    40,
		Generation: 1751328000,
		Status:     overrides.StatusActive,
	}
}

func newTestCalculator(source StrengthSource) *Calculator {
	return NewCalculator(source, testPostureConfig(), zerolog.Nop())
}

func assertPosture(t *testing.T, state AEState, wantA, wantE float64) {
	t.Helper()
	if math.Abs(state.Aggression-wantA) > 1e-9 {
		t.Errorf("Expected aggression %.4f, got %.4f", wantA, state.Aggression)
	}
	if math.Abs(state.Exposure-wantE) > 1e-9 {
		t.Errorf("Expected exposure %.4f, got %.4f", wantE, state.Exposure)
	}
}

// ============ Flag Pass ============

func TestComputeBaselineWithoutFlags(t *testing.T) {
	calc := newTestCalculator(nil)

	state := calc.Compute(context.Background())

	assertPosture(t, state, 0.5, 0.5)
	if state.Strength != 1.0 {
		t.Errorf("Expected neutral strength 1.0 without a source, got %.4f", state.Strength)
	}
	if state.StrengthEffect != 0 {
		t.Errorf("Expected zero strength effect, got %.4f", state.StrengthEffect)
	}
	if len(state.Contributions) != 0 {
		t.Errorf("Expected no driver contributions, got %d", len(state.Contributions))
	}
}

func TestComputeFlagDeltas(t *testing.T) {
	tests := []struct {
		name  string
		flags RegimeFlags
		wantA float64
		wantE float64
	}{
		{
			name:  "buy on normal driver raises aggression",
			flags: RegimeFlags{"btc_trend": {Buy: true}},
			wantA: 0.65,
			wantE: 0.35,
		},
		{
			name:  "trim on normal driver lowers aggression",
			flags: RegimeFlags{"btc_trend": {Trim: true}},
			wantA: 0.35,
			wantE: 0.65,
		},
		{
			name:  "buy on inverse driver lowers aggression",
			flags: RegimeFlags{"btc_dominance": {Buy: true}},
			wantA: 0.38,
			wantE: 0.62,
		},
		{
			name:  "trim on inverse driver raises aggression",
			flags: RegimeFlags{"stable_flow": {Trim: true}},
			wantA: 0.58,
			wantE: 0.42,
		},
		{
			name: "deltas accumulate across drivers",
			flags: RegimeFlags{
				"btc_trend": {Buy: true},
				"eth_trend": {Buy: true},
			},
			wantA: 0.75,
			wantE: 0.25,
		},
		{
			name:  "unknown driver is ignored",
			flags: RegimeFlags{"sol_trend": {Buy: true}},
			wantA: 0.5,
			wantE: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := newTestCalculator(nil)
			calc.SetFlags(tt.flags)

			state := calc.Compute(context.Background())

			assertPosture(t, state, tt.wantA, tt.wantE)
		})
	}
}

func TestEmergencyAlwaysRiskOff(t *testing.T) {
	// Emergency must push toward lower aggression and higher exposure on
	// both polarities, unlike buy and trim.
	tests := []struct {
		name   string
		driver string
		wantA  float64
		wantE  float64
	}{
		{name: "normal driver", driver: "btc_trend", wantA: 0.20, wantE: 0.80},
		{name: "inverse driver", driver: "btc_dominance", wantA: 0.26, wantE: 0.74},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := newTestCalculator(nil)
			calc.SetFlags(RegimeFlags{tt.driver: {Emergency: true}})

			state := calc.Compute(context.Background())

			assertPosture(t, state, tt.wantA, tt.wantE)
			if len(state.Contributions) != 1 {
				t.Fatalf("Expected 1 contribution, got %d", len(state.Contributions))
			}
			if state.Contributions[0].DeltaA >= 0 {
				t.Errorf("Expected negative aggression delta under emergency, got %.4f", state.Contributions[0].DeltaA)
			}
		})
	}
}

func TestFlagPassClampsToUnitInterval(t *testing.T) {
	calc := newTestCalculator(nil)
	calc.SetFlags(RegimeFlags{
		"btc_trend":     {Emergency: true},
		"eth_trend":     {Emergency: true},
		"btc_dominance": {Emergency: true},
		"stable_flow":   {Emergency: true},
	})

	state := calc.Compute(context.Background())

	// Raw deltas sum to -0.9/+0.9, which overflows the unit interval.
	assertPosture(t, state, 0.0, 1.0)
}

func TestContributionsRecordPerDriverDeltas(t *testing.T) {
	calc := newTestCalculator(nil)
	calc.SetFlags(RegimeFlags{
		"btc_trend":   {Buy: true},
		"stable_flow": {Emergency: true},
	})

	state := calc.Compute(context.Background())

	if len(state.Contributions) != 2 {
		t.Fatalf("Expected 2 contributions, got %d", len(state.Contributions))
	}
	// Configuration order, not map order.
	if state.Contributions[0].Name != "btc_trend" || state.Contributions[1].Name != "stable_flow" {
		t.Errorf("Expected contributions in driver order, got %s then %s",
			state.Contributions[0].Name, state.Contributions[1].Name)
	}
	if math.Abs(state.Contributions[0].DeltaA-0.15) > 1e-9 {
		t.Errorf("Expected btc_trend delta_a 0.15, got %.4f", state.Contributions[0].DeltaA)
	}
	if math.Abs(state.Contributions[1].DeltaA+0.16) > 1e-9 {
		t.Errorf("Expected stable_flow delta_a -0.16, got %.4f", state.Contributions[1].DeltaA)
	}
}

// ============ Strength Pass ============

func TestStrengthModulation(t *testing.T) {
	tests := []struct {
		name       string
		multiplier float64
		wantEffect float64
		wantA      float64
		wantE      float64
	}{
		{name: "mild boost", multiplier: 1.10, wantEffect: 0.05, wantA: 0.55, wantE: 0.45},
		{name: "strong boost capped", multiplier: 2.00, wantEffect: 0.25, wantA: 0.75, wantE: 0.25},
		{name: "mild cut", multiplier: 0.80, wantEffect: -0.10, wantA: 0.40, wantE: 0.60},
		{name: "deep cut capped", multiplier: 0.30, wantEffect: -0.25, wantA: 0.25, wantE: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &mockStrengthSource{rows: []overrides.Override{
				strengthRow(patterns.PatternS2ConfirmAdd, patterns.ActionAdd, tt.multiplier, 0.8),
			}}
			calc := newTestCalculator(source)

			state := calc.Compute(context.Background())

			assertPosture(t, state, tt.wantA, tt.wantE)
			if math.Abs(state.StrengthEffect-tt.wantEffect) > 1e-9 {
				t.Errorf("Expected strength effect %.4f, got %.4f", tt.wantEffect, state.StrengthEffect)
			}
		})
	}
}

func TestStrengthConfidenceWeightedMean(t *testing.T) {
	source := &mockStrengthSource{rows: []overrides.Override{
		strengthRow(patterns.PatternS1CrossEntry, patterns.ActionEntry, 1.5, 0.9),
		strengthRow(patterns.PatternS3FirstDip, patterns.ActionAdd, 0.5, 0.1),
	}}
	calc := newTestCalculator(source)

	state := calc.Compute(context.Background())

	// (1.5*0.9 + 0.5*0.1) / 1.0 = 1.40
	if math.Abs(state.Strength-1.40) > 1e-9 {
		t.Errorf("Expected confidence-weighted strength 1.40, got %.4f", state.Strength)
	}
	assertPosture(t, state, 0.70, 0.30)
}

func TestStrengthIgnoresNonStrengthRows(t *testing.T) {
	drift := strengthRow(patterns.PatternS1CrossEntry, patterns.ActionEntry, 0.90, 0.9)
	drift.Key.Kind = overrides.KindThresholdDrift
	retired := strengthRow(patterns.PatternS3FirstDip, patterns.ActionAdd, 2.0, 0.9)
	retired.Status = overrides.StatusRetired
	unweighted := strengthRow(patterns.PatternS2ConfirmAdd, patterns.ActionAdd, 3.0, 0)

	source := &mockStrengthSource{rows: []overrides.Override{drift, retired, unweighted}}
	calc := newTestCalculator(source)

	state := calc.Compute(context.Background())

	if state.Strength != 1.0 {
		t.Errorf("Expected neutral strength when no row qualifies, got %.4f", state.Strength)
	}
	assertPosture(t, state, 0.5, 0.5)
}

func TestStrengthAppliesAfterFlagClamp(t *testing.T) {
	// A fully clamped flag pass still receives the strength adjustment:
	// the two passes are decoupled.
	source := &mockStrengthSource{rows: []overrides.Override{
		strengthRow(patterns.PatternS2ConfirmAdd, patterns.ActionAdd, 2.0, 0.8),
	}}
	calc := newTestCalculator(source)
	calc.SetFlags(RegimeFlags{
		"btc_trend":     {Emergency: true},
		"eth_trend":     {Emergency: true},
		"btc_dominance": {Emergency: true},
		"stable_flow":   {Emergency: true},
	})

	state := calc.Compute(context.Background())

	assertPosture(t, state, 0.25, 0.75)
}

func TestStrengthRefreshCachesWithinWindow(t *testing.T) {
	source := &mockStrengthSource{rows: []overrides.Override{
		strengthRow(patterns.PatternS2ConfirmAdd, patterns.ActionAdd, 1.2, 0.8),
	}}
	calc := newTestCalculator(source)

	for i := 0; i < 5; i++ {
		calc.Compute(context.Background())
	}

	if source.callCount() != 1 {
		t.Errorf("Expected 1 source call across 5 computes, got %d", source.callCount())
	}
}

func TestStrengthSourceErrorHoldsLastValue(t *testing.T) {
	source := &mockStrengthSource{rows: []overrides.Override{
		strengthRow(patterns.PatternS2ConfirmAdd, patterns.ActionAdd, 1.4, 1.0),
	}}
	cfg := testPostureConfig()
	cfg.StrengthRefresh = time.Nanosecond
	calc := NewCalculator(source, cfg, zerolog.Nop())

	first := calc.Compute(context.Background())
	if math.Abs(first.Strength-1.4) > 1e-9 {
		t.Fatalf("Expected strength 1.4 before outage, got %.4f", first.Strength)
	}

	source.setErr(errors.New("connection refused"))
	time.Sleep(time.Millisecond)

	second := calc.Compute(context.Background())
	if math.Abs(second.Strength-1.4) > 1e-9 {
		t.Errorf("Expected held strength 1.4 through source outage, got %.4f", second.Strength)
	}
	assertPosture(t, second, 0.70, 0.30)
}

// ============ Flag Snapshots ============

func TestFlagsReturnsIndependentCopy(t *testing.T) {
	calc := newTestCalculator(nil)
	calc.SetFlags(RegimeFlags{"btc_trend": {Buy: true}})

	snapshot := calc.Flags()
	snapshot["btc_trend"] = DriverFlags{Emergency: true}
	snapshot["eth_trend"] = DriverFlags{Trim: true}

	state := calc.Compute(context.Background())

	assertPosture(t, state, 0.65, 0.35)
}

func TestSetFlagsReplacesSnapshot(t *testing.T) {
	calc := newTestCalculator(nil)
	calc.SetFlags(RegimeFlags{"btc_trend": {Buy: true}})
	calc.SetFlags(RegimeFlags{"eth_trend": {Trim: true}})

	state := calc.Compute(context.Background())

	// Only the second snapshot applies.
	assertPosture(t, state, 0.40, 0.60)
	if len(state.Contributions) != 1 || state.Contributions[0].Name != "eth_trend" {
		t.Errorf("Expected single eth_trend contribution, got %+v", state.Contributions)
	}
}
