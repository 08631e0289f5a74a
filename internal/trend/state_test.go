package trend

import (
	"testing"
)

// bullInput returns inputs with a fully bullish stack and rising slopes.
func bullInput() TransitionInput {
	return TransitionInput{
		Price:    110,
		EMAs:     EMAStack{Fast: 108, Mid: 105, Slow: 102, Long: 100},
		PrevEMAs: EMAStack{Fast: 107, Mid: 105, Slow: 102, Long: 100},
		Slopes:   Slopes{Fast: 0.01, Mid: 0.008, Slow: 0.005, Long: 0.002},
	}
}

// bearInput returns inputs with a fully bearish stack and falling slopes.
func bearInput() TransitionInput {
	return TransitionInput{
		Price:    90,
		EMAs:     EMAStack{Fast: 92, Mid: 95, Slow: 98, Long: 100},
		PrevEMAs: EMAStack{Fast: 93, Mid: 95, Slow: 98, Long: 100},
		Slopes:   Slopes{Fast: -0.01, Mid: -0.008, Slow: -0.005, Long: -0.002},
	}
}

// TestTransitionS0ToS1OnCrossUp verifies the fast band crossing above mid
// promotes S0 to S1 even while the slow band is still falling.
func TestTransitionS0ToS1OnCrossUp(t *testing.T) {
	in := TransitionInput{
		Price:    96,
		EMAs:     EMAStack{Fast: 95.5, Mid: 95, Slow: 98, Long: 100},
		PrevEMAs: EMAStack{Fast: 94.5, Mid: 95.2, Slow: 98.1, Long: 100},
		Slopes:   Slopes{Fast: 0.01, Mid: 0.001, Slow: -0.003, Long: -0.001},
	}

	if got := Transition(StateS0, in); got != StateS1 {
		t.Errorf("Expected S0 -> S1 on cross up, got %s", got)
	}
}

// TestTransitionS0HoldsWithoutCross verifies S0 persists while the bearish
// stack holds and no cross occurs.
func TestTransitionS0HoldsWithoutCross(t *testing.T) {
	if got := Transition(StateS0, bearInput()); got != StateS0 {
		t.Errorf("Expected S0 to hold, got %s", got)
	}
}

// TestTransitionS0ToS4OnBrokenBearStack verifies S0 falls back to S4 when the
// bearish alignment dissolves without a cross.
func TestTransitionS0ToS4OnBrokenBearStack(t *testing.T) {
	in := bearInput()
	// Mid drops below fast without a fast/mid cross recorded.
	in.EMAs = EMAStack{Fast: 95, Mid: 94, Slow: 98, Long: 100}
	in.PrevEMAs = EMAStack{Fast: 95, Mid: 94.5, Slow: 98, Long: 100}

	if got := Transition(StateS0, in); got != StateS4 {
		t.Errorf("Expected S0 -> S4 on broken bear stack, got %s", got)
	}
}

// TestTransitionS1ToS2RequiresSlowReclaim verifies the S1 -> S2 promotion
// needs price above the slow band with a non-falling slow slope.
func TestTransitionS1ToS2RequiresSlowReclaim(t *testing.T) {
	in := TransitionInput{
		Price:    103,
		EMAs:     EMAStack{Fast: 101, Mid: 100, Slow: 102, Long: 104},
		PrevEMAs: EMAStack{Fast: 100.5, Mid: 100, Slow: 102, Long: 104},
		Slopes:   Slopes{Fast: 0.01, Mid: 0.002, Slow: 0.001, Long: -0.001},
	}
	if got := Transition(StateS1, in); got != StateS2 {
		t.Errorf("Expected S1 -> S2, got %s", got)
	}

	// Same shape but the slow band still falling: promotion withheld.
	in.Slopes.Slow = -0.002
	if got := Transition(StateS1, in); got != StateS1 {
		t.Errorf("Expected S1 to hold with falling slow band, got %s", got)
	}
}

// TestTransitionS1DemotesOnFastBreak verifies a fast band back below mid
// drops S1 straight to S0 or S4 depending on the stack.
func TestTransitionS1DemotesOnFastBreak(t *testing.T) {
	if got := Transition(StateS1, bearInput()); got != StateS0 {
		t.Errorf("Expected S1 -> S0 on bearish stack, got %s", got)
	}

	mixed := bearInput()
	mixed.EMAs = EMAStack{Fast: 94, Mid: 95, Slow: 93, Long: 100}
	if got := Transition(StateS1, mixed); got != StateS4 {
		t.Errorf("Expected S1 -> S4 on mixed stack, got %s", got)
	}
}

// TestTransitionS2ToS3RequiresFullAlignment verifies S3 needs the bull stack
// plus a rising long EMA.
func TestTransitionS2ToS3RequiresFullAlignment(t *testing.T) {
	if got := Transition(StateS2, bullInput()); got != StateS3 {
		t.Errorf("Expected S2 -> S3 on full alignment, got %s", got)
	}

	flat := bullInput()
	flat.Slopes.Long = 0
	if got := Transition(StateS2, flat); got != StateS2 {
		t.Errorf("Expected S2 to hold with flat long EMA, got %s", got)
	}
}

// TestTransitionS2BacksOffToS1 verifies losing the slow band reclaim demotes
// S2 one step rather than resetting the machine.
func TestTransitionS2BacksOffToS1(t *testing.T) {
	in := bullInput()
	in.Price = in.EMAs.Slow - 0.5
	in.Slopes.Long = 0
	if got := Transition(StateS2, in); got != StateS1 {
		t.Errorf("Expected S2 -> S1 when price loses the slow band, got %s", got)
	}
}

// TestTransitionS3DowngradesToS2 verifies a stalling long EMA drops S3 back
// to S2 while the fast/mid order still holds.
func TestTransitionS3DowngradesToS2(t *testing.T) {
	in := bullInput()
	in.Slopes.Long = -0.001
	if got := Transition(StateS3, in); got != StateS2 {
		t.Errorf("Expected S3 -> S2 on stalling long EMA, got %s", got)
	}
}

// TestTransitionS3DemotesOnFastBreak verifies the S3 demotion path lands on
// S0 only with a full bearish stack.
func TestTransitionS3DemotesOnFastBreak(t *testing.T) {
	if got := Transition(StateS3, bearInput()); got != StateS0 {
		t.Errorf("Expected S3 -> S0 on bearish stack, got %s", got)
	}
}

// TestTransitionS4Routes verifies the fallback state routes to S0 on a bear
// stack and to S1 once the fast band leads.
func TestTransitionS4Routes(t *testing.T) {
	if got := Transition(StateS4, bearInput()); got != StateS0 {
		t.Errorf("Expected S4 -> S0, got %s", got)
	}
	if got := Transition(StateS4, bullInput()); got != StateS1 {
		t.Errorf("Expected S4 -> S1, got %s", got)
	}
}

// TestTransitionIsPure verifies repeated calls with identical inputs yield
// identical outputs for every state.
func TestTransitionIsPure(t *testing.T) {
	states := []TrendState{StateS0, StateS1, StateS2, StateS3, StateS4}
	inputs := []TransitionInput{bullInput(), bearInput()}

	for _, st := range states {
		for _, in := range inputs {
			first := Transition(st, in)
			for i := 0; i < 10; i++ {
				if got := Transition(st, in); got != first {
					t.Fatalf("Transition(%s) not deterministic: %s then %s", st, first, got)
				}
			}
		}
	}
}

// TestTransitionNeverSkipsUpward verifies no single evaluation advances the
// bull path by more than one state.
func TestTransitionNeverSkipsUpward(t *testing.T) {
	rank := map[TrendState]int{StateS0: 0, StateS4: 0, StateS1: 1, StateS2: 2, StateS3: 3}
	states := []TrendState{StateS0, StateS1, StateS2, StateS3, StateS4}
	inputs := []TransitionInput{bullInput(), bearInput()}

	// Perturb the canonical inputs to sweep cross/no-cross and slope signs.
	for _, base := range inputs {
		for _, slowSlope := range []float64{-0.01, 0, 0.01} {
			for _, longSlope := range []float64{-0.01, 0, 0.01} {
				in := base
				in.Slopes.Slow = slowSlope
				in.Slopes.Long = longSlope
				for _, st := range states {
					next := Transition(st, in)
					if rank[next] > rank[st]+1 {
						t.Errorf("Transition(%s) skipped to %s", st, next)
					}
				}
			}
		}
	}
}

// TestParseTrendState verifies round-tripping and the rejection of unknown
// values.
func TestParseTrendState(t *testing.T) {
	for _, st := range []TrendState{StateS0, StateS1, StateS2, StateS3, StateS4} {
		got, err := ParseTrendState(string(st))
		if err != nil {
			t.Fatalf("ParseTrendState(%s) failed: %v", st, err)
		}
		if got != st {
			t.Errorf("Expected %s, got %s", st, got)
		}
	}

	if _, err := ParseTrendState("S9"); err == nil {
		t.Error("Expected error for unknown state")
	}
}

// TestCrossDetection verifies the cross helpers compare previous and current
// fast/mid ordering.
func TestCrossDetection(t *testing.T) {
	up := TransitionInput{
		EMAs:     EMAStack{Fast: 101, Mid: 100},
		PrevEMAs: EMAStack{Fast: 99, Mid: 100},
	}
	if !up.crossedUp() {
		t.Error("Expected crossedUp for fast moving above mid")
	}
	if up.crossedDown() {
		t.Error("Did not expect crossedDown for an upward cross")
	}

	down := TransitionInput{
		EMAs:     EMAStack{Fast: 99, Mid: 100},
		PrevEMAs: EMAStack{Fast: 101, Mid: 100},
	}
	if !down.crossedDown() {
		t.Error("Expected crossedDown for fast moving below mid")
	}
	if down.crossedUp() {
		t.Error("Did not expect crossedUp for a downward cross")
	}
}

// TestGateDecisionFactors verifies check values and thresholds flatten into
// the episode factor map.
func TestGateDecisionFactors(t *testing.T) {
	d := GateDecision{
		Checks: []GateCheck{
			{Name: "trend_strength", Value: 0.7, Threshold: 0.55},
			{Name: "dip_distance_pct", Value: 0.004, Threshold: 0.015},
		},
	}

	f := d.Factors()
	if len(f) != 4 {
		t.Fatalf("Expected 4 factors, got %d", len(f))
	}
	if f["trend_strength"] != 0.7 {
		t.Errorf("Expected trend_strength 0.7, got %f", f["trend_strength"])
	}
	if f["trend_strength_threshold"] != 0.55 {
		t.Errorf("Expected trend_strength_threshold 0.55, got %f", f["trend_strength_threshold"])
	}
	if f["dip_distance_pct_threshold"] != 0.015 {
		t.Errorf("Expected dip_distance_pct_threshold 0.015, got %f", f["dip_distance_pct_threshold"])
	}
}
