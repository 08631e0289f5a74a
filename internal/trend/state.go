package trend

import (
	"fmt"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// TrendState is the discrete trend regime of one position.
type TrendState string

const (
	StateS0 TrendState = "S0" // bearish alignment: fast < mid < slow
	StateS1 TrendState = "S1" // fast crossed above mid, slow band still descending
	StateS2 TrendState = "S2" // price reclaimed the slow band, slow slope no longer falling
	StateS3 TrendState = "S3" // full bullish alignment with rising long EMA
	StateS4 TrendState = "S4" // no clear alignment
)

// ParseTrendState parses a persisted state string.
func ParseTrendState(s string) (TrendState, error) {
	switch TrendState(s) {
	case StateS0, StateS1, StateS2, StateS3, StateS4:
		return TrendState(s), nil
	}
	return StateS4, fmt.Errorf("unknown trend state %q", s)
}

// bullish reports whether the state is on the confirmed-bull path.
func (s TrendState) bullish() bool {
	return s == StateS1 || s == StateS2 || s == StateS3
}

// TransitionInput carries everything the transition function is allowed to
// see. The function is pure: no clocks, no lookups, no stored state.
type TransitionInput struct {
	Price    float64
	EMAs     EMAStack
	PrevEMAs EMAStack
	Slopes   Slopes
}

func (in TransitionInput) bullStack() bool {
	return in.EMAs.Fast > in.EMAs.Mid && in.EMAs.Mid > in.EMAs.Slow
}

func (in TransitionInput) bearStack() bool {
	return in.EMAs.Fast < in.EMAs.Mid && in.EMAs.Mid < in.EMAs.Slow
}

func (in TransitionInput) crossedUp() bool {
	return in.PrevEMAs.Fast <= in.PrevEMAs.Mid && in.EMAs.Fast > in.EMAs.Mid
}

func (in TransitionInput) crossedDown() bool {
	return in.PrevEMAs.Fast >= in.PrevEMAs.Mid && in.EMAs.Fast < in.EMAs.Mid
}

// Transition computes the next state from the current one and the bar inputs.
// Upward moves advance at most one state per evaluation; a broken alignment
// drops straight to S0 (full bearish stack) or S4 (mixed), which the inputs
// justify.
func Transition(current TrendState, in TransitionInput) TrendState {
	switch current {
	case StateS0:
		if in.crossedUp() {
			return StateS1
		}
		if !in.bearStack() {
			return StateS4
		}
		return StateS0

	case StateS1:
		if in.EMAs.Fast < in.EMAs.Mid {
			return demoted(in)
		}
		if in.Price > in.EMAs.Slow && in.Slopes.Slow >= 0 {
			return StateS2
		}
		return StateS1

	case StateS2:
		if in.EMAs.Fast < in.EMAs.Mid {
			return demoted(in)
		}
		if in.bullStack() && in.Slopes.Long > 0 {
			return StateS3
		}
		if in.Price <= in.EMAs.Slow || in.Slopes.Slow < 0 {
			return StateS1
		}
		return StateS2

	case StateS3:
		if in.EMAs.Fast < in.EMAs.Mid {
			return demoted(in)
		}
		if !in.bullStack() || in.Slopes.Long <= 0 {
			return StateS2
		}
		return StateS3

	default: // StateS4 and anything unrecognized
		if in.bearStack() {
			return StateS0
		}
		if in.crossedUp() || in.EMAs.Fast > in.EMAs.Mid {
			return StateS1
		}
		return StateS4
	}
}

// demoted picks the landing state after a broken bull alignment.
func demoted(in TransitionInput) TrendState {
	if in.bearStack() {
		return StateS0
	}
	return StateS4
}

// ============================================================================
// TAGGED DIAGNOSTICS
// ============================================================================

// StateDiagnostics is the per-state diagnostics variant. Each state carries
// only the fields relevant to it; there is no open-ended feature map.
type StateDiagnostics interface {
	TrendState() TrendState
}

// S0Diagnostics describes a position in confirmed bearish alignment.
type S0Diagnostics struct {
	FastBelowMidPct float64       `json:"fast_below_mid_pct"`
	MidBelowSlowPct float64       `json:"mid_below_slow_pct"`
	ExitGate        *GateDecision `json:"exit_gate,omitempty"`
}

func (S0Diagnostics) TrendState() TrendState { return StateS0 }

// S1Diagnostics describes an early reversal: fast above mid, slow still falling.
type S1Diagnostics struct {
	CrossAgeBars int           `json:"cross_age_bars"`
	SlowSlope    float64       `json:"slow_slope"`
	Strength     float64       `json:"strength"`
	EntryGate    *GateDecision `json:"entry_gate,omitempty"`
}

func (S1Diagnostics) TrendState() TrendState { return StateS1 }

// S2Diagnostics describes a reclaim of the slow band awaiting full alignment.
type S2Diagnostics struct {
	PriceAboveSlowPct float64       `json:"price_above_slow_pct"`
	MidSlope          float64       `json:"mid_slope"`
	Strength          float64       `json:"strength"`
	AddGate           *GateDecision `json:"add_gate,omitempty"`
}

func (S2Diagnostics) TrendState() TrendState { return StateS2 }

// S3Diagnostics describes full bullish alignment and its dip/trim gates.
type S3Diagnostics struct {
	BarsSinceConfirm int           `json:"bars_since_confirm"`
	DipDistancePct   float64       `json:"dip_distance_pct"`
	LongSlope        float64       `json:"long_slope"`
	Strength         float64       `json:"strength"`
	SupportBoost     float64       `json:"support_boost"`
	DipGate          *GateDecision `json:"dip_gate,omitempty"`
	TrimGate         *GateDecision `json:"trim_gate,omitempty"`
}

func (S3Diagnostics) TrendState() TrendState { return StateS3 }

// S4Diagnostics describes a position with no clear alignment.
type S4Diagnostics struct {
	BarsUnaligned  int     `json:"bars_unaligned"`
	FastVsMidPct   float64 `json:"fast_vs_mid_pct"`
	MidVsSlowPct   float64 `json:"mid_vs_slow_pct"`
	PriceVsSlowPct float64 `json:"price_vs_slow_pct"`
}

func (S4Diagnostics) TrendState() TrendState { return StateS4 }

// ============================================================================
// GATE RECORDS
// ============================================================================

// GateCheck records one gate condition: the raw value it saw, the threshold
// it used and where that threshold came from.
type GateCheck struct {
	Name            string  `json:"name"`
	Value           float64 `json:"value"`
	Threshold       float64 `json:"threshold"`
	ThresholdSource string  `json:"threshold_source,omitempty"`
	Passed          bool    `json:"passed"`
}

// GateDecision is the full record of one armed gate evaluation, pass or fail.
type GateDecision struct {
	PatternKey   string                  `json:"pattern_key"`
	Category     patterns.ActionCategory `json:"action_category"`
	Passed       bool                    `json:"passed"`
	RejectReason string                  `json:"reject_reason,omitempty"`
	Checks       []GateCheck             `json:"checks"`
	RefPrice     float64                 `json:"ref_price"`
}

// Factors flattens the checks into the factor map recorded on episode events.
func (d GateDecision) Factors() map[string]float64 {
	out := make(map[string]float64, len(d.Checks)*2)
	for _, c := range d.Checks {
		out[c.Name] = c.Value
		out[c.Name+"_threshold"] = c.Threshold
	}
	return out
}

// ActionIntent is an eligible action emitted for the external execution and
// sizing module. The core never places orders.
type ActionIntent struct {
	Position   PositionKey             `json:"position"`
	PatternKey string                  `json:"pattern_key"`
	Category   patterns.ActionCategory `json:"action_category"`
	Price      float64                 `json:"price"`
	Strength   float64                 `json:"strength"`
	Timestamp  time.Time               `json:"timestamp"`
}

// EngineSnapshot is the full result of one evaluation. PrevState always holds
// the state as of the previous evaluation, so persistence consumers can tell
// whether the engine ran since their last read.
type EngineSnapshot struct {
	Key         PositionKey      `json:"key"`
	State       TrendState       `json:"state"`
	PrevState   TrendState       `json:"prev_state"`
	BarsInState int              `json:"bars_in_state"`
	BarTime     time.Time        `json:"bar_time"`
	Price       float64          `json:"price"`
	EMAs        EMAStack         `json:"emas"`
	Slopes      Slopes           `json:"slopes"`
	Stale       bool             `json:"stale"`
	StaleReason string           `json:"stale_reason,omitempty"`
	Scope       patterns.Scope   `json:"scope,omitempty"`
	Diagnostics StateDiagnostics `json:"diagnostics,omitempty"`
	Decisions   []GateDecision   `json:"decisions,omitempty"`
	Intents     []ActionIntent   `json:"intents,omitempty"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
}
