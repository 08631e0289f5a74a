package trend

import (
	"math"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// Threshold names read by the gates. The same names key the threshold cache,
// the persisted defaults table and the materialized override rows.
const (
	ThresholdTSMin         = "ts_min"
	ThresholdHalo          = "halo"
	ThresholdSlopeMin      = "slope_min"
	ThresholdWindowBars    = "window_bars"
	ThresholdTrimTSMax     = "trim_ts_max"
	ThresholdExitSpreadMin = "exit_spread_min"
)

// ThresholdSource serves gate thresholds. Implemented by the injected
// threshold cache; tests use a fixed stub. The second return value names the
// resolution source for diagnostics.
type ThresholdSource interface {
	Threshold(name, timeframe, phase string, level int) (float64, string)
}

// GateSpec describes one gating rule: its identity, the state it is armed in
// and the thresholds it reads. The override materializer projects drift
// multipliers through this table.
type GateSpec struct {
	PatternKey string
	Category   patterns.ActionCategory
	Phase      TrendState
	Level      int
	Thresholds []string
}

// GateSpecs returns the canonical gating rules, ordered by pattern key.
func GateSpecs() []GateSpec {
	return []GateSpec{
		{
			PatternKey: patterns.PatternBearFlipExit,
			Category:   patterns.ActionExit,
			Phase:      StateS0,
			Level:      1,
			Thresholds: []string{ThresholdExitSpreadMin},
		},
		{
			PatternKey: patterns.PatternS1CrossEntry,
			Category:   patterns.ActionEntry,
			Phase:      StateS1,
			Level:      1,
			Thresholds: []string{ThresholdWindowBars, ThresholdSlopeMin, ThresholdTSMin},
		},
		{
			PatternKey: patterns.PatternS2ConfirmAdd,
			Category:   patterns.ActionAdd,
			Phase:      StateS2,
			Level:      1,
			Thresholds: []string{ThresholdSlopeMin, ThresholdTSMin},
		},
		{
			PatternKey: patterns.PatternS3BreakTrim,
			Category:   patterns.ActionTrim,
			Phase:      StateS3,
			Level:      1,
			Thresholds: []string{ThresholdTrimTSMax},
		},
		{
			PatternKey: patterns.PatternS3FirstDip,
			Category:   patterns.ActionAdd,
			Phase:      StateS3,
			Level:      1,
			Thresholds: []string{ThresholdWindowBars, ThresholdHalo, ThresholdSlopeMin, ThresholdTSMin},
		},
	}
}

// gateContext carries everything one evaluation's gates may look at.
type gateContext struct {
	in          TransitionInput
	fromState   TrendState
	newState    TrendState
	barsInState int
	strength    float64
	srBoost     float64
	barTime     time.Time
}

// gateOutcome collects the armed-gate records of one evaluation.
type gateOutcome struct {
	decisions []GateDecision
	intents   []ActionIntent

	entryGate *GateDecision
	addGate   *GateDecision
	dipGate   *GateDecision
	trimGate  *GateDecision
	exitGate  *GateDecision
}

func (o *gateOutcome) add(d GateDecision) *GateDecision {
	o.decisions = append(o.decisions, d)
	return &o.decisions[len(o.decisions)-1]
}

// runGates evaluates every gate armed under the new state plus the
// transition-triggered trim/exit gates, and returns their records. Intents
// are emitted only for passing gates.
func (e *Engine) runGates(ctx gateContext) gateOutcome {
	var out gateOutcome

	switch ctx.newState {
	case StateS1:
		out.entryGate = out.add(e.evalCrossEntry(ctx))
	case StateS2:
		out.addGate = out.add(e.evalConfirmAdd(ctx))
	case StateS3:
		if !e.dipFired {
			d := e.evalFirstDip(ctx)
			out.dipGate = out.add(d)
			if d.Passed {
				e.dipFired = true
			}
		}
		if !e.trimFired && ctx.in.Price < ctx.in.EMAs.Mid {
			d := e.evalBreakTrim(ctx)
			out.trimGate = out.add(d)
			if d.Passed {
				e.trimFired = true
			}
		}
	}

	// The exit gate judges the flip into confirmed bearish alignment.
	if ctx.fromState.bullish() && ctx.newState == StateS0 {
		out.exitGate = out.add(e.evalBearFlipExit(ctx))
	}

	for i := range out.decisions {
		d := out.decisions[i]
		if !d.Passed {
			continue
		}
		out.intents = append(out.intents, ActionIntent{
			Position:   e.key,
			PatternKey: d.PatternKey,
			Category:   d.Category,
			Price:      ctx.in.Price,
			Strength:   ctx.strength + ctx.srBoost,
			Timestamp:  ctx.barTime,
		})
	}
	return out
}

// evalCrossEntry gates the early entry in S1: a fresh cross, a tolerable slow
// slope and enough trend strength.
func (e *Engine) evalCrossEntry(ctx gateContext) GateDecision {
	d := GateDecision{
		PatternKey: patterns.PatternS1CrossEntry,
		Category:   patterns.ActionEntry,
		RefPrice:   ctx.in.Price,
	}

	window, windowSrc := e.threshold(ThresholdWindowBars, StateS1, 1)
	d.check(GateCheck{
		Name:            "cross_age_bars",
		Value:           float64(ctx.barsInState),
		Threshold:       window,
		ThresholdSource: windowSrc,
		Passed:          float64(ctx.barsInState) <= window,
	}, "cross_too_old")

	slopeMin, slopeSrc := e.threshold(ThresholdSlopeMin, StateS1, 1)
	d.check(GateCheck{
		Name:            "slow_slope",
		Value:           ctx.in.Slopes.Slow,
		Threshold:       slopeMin,
		ThresholdSource: slopeSrc,
		Passed:          ctx.in.Slopes.Slow >= slopeMin,
	}, "slow_slope_below_min")

	tsMin, tsSrc := e.threshold(ThresholdTSMin, StateS1, 1)
	d.check(GateCheck{
		Name:            "trend_strength",
		Value:           ctx.strength,
		Threshold:       tsMin,
		ThresholdSource: tsSrc,
		Passed:          ctx.strength >= tsMin,
	}, "strength_below_min")

	return d
}

// evalConfirmAdd gates the continuation add in S2.
func (e *Engine) evalConfirmAdd(ctx gateContext) GateDecision {
	d := GateDecision{
		PatternKey: patterns.PatternS2ConfirmAdd,
		Category:   patterns.ActionAdd,
		RefPrice:   ctx.in.Price,
	}

	priceAboveMid := 0.0
	if ctx.in.EMAs.Mid > 0 {
		priceAboveMid = (ctx.in.Price - ctx.in.EMAs.Mid) / ctx.in.EMAs.Mid
	}
	d.check(GateCheck{
		Name:      "price_above_mid_pct",
		Value:     priceAboveMid,
		Threshold: 0,
		Passed:    priceAboveMid >= 0,
	}, "price_below_mid")

	slopeMin, slopeSrc := e.threshold(ThresholdSlopeMin, StateS2, 1)
	d.check(GateCheck{
		Name:            "mid_slope",
		Value:           ctx.in.Slopes.Mid,
		Threshold:       slopeMin,
		ThresholdSource: slopeSrc,
		Passed:          ctx.in.Slopes.Mid > slopeMin,
	}, "mid_slope_below_min")

	tsMin, tsSrc := e.threshold(ThresholdTSMin, StateS2, 1)
	d.check(GateCheck{
		Name:            "trend_strength",
		Value:           ctx.strength,
		Threshold:       tsMin,
		ThresholdSource: tsSrc,
		Passed:          ctx.strength >= tsMin,
	}, "strength_below_min")

	return d
}

// evalFirstDip gates the first dip buy after S3 confirmation: a bounded bar
// window, price near the mid EMA, a rising long EMA and enough strength with
// the support boost folded in.
func (e *Engine) evalFirstDip(ctx gateContext) GateDecision {
	d := GateDecision{
		PatternKey: patterns.PatternS3FirstDip,
		Category:   patterns.ActionAdd,
		RefPrice:   ctx.in.Price,
	}

	window, windowSrc := e.threshold(ThresholdWindowBars, StateS3, 1)
	d.check(GateCheck{
		Name:            "bars_since_confirm",
		Value:           float64(ctx.barsInState),
		Threshold:       window,
		ThresholdSource: windowSrc,
		Passed:          float64(ctx.barsInState) <= window,
	}, "dip_window_expired")

	dist := math.MaxFloat64
	if ctx.in.EMAs.Mid > 0 {
		dist = math.Abs(ctx.in.Price-ctx.in.EMAs.Mid) / ctx.in.EMAs.Mid
	}
	halo, haloSrc := e.threshold(ThresholdHalo, StateS3, 1)
	d.check(GateCheck{
		Name:            "dip_distance_pct",
		Value:           dist,
		Threshold:       halo,
		ThresholdSource: haloSrc,
		Passed:          dist <= halo,
	}, "outside_halo")

	slopeMin, slopeSrc := e.threshold(ThresholdSlopeMin, StateS3, 1)
	d.check(GateCheck{
		Name:            "long_slope",
		Value:           ctx.in.Slopes.Long,
		Threshold:       slopeMin,
		ThresholdSource: slopeSrc,
		Passed:          ctx.in.Slopes.Long >= slopeMin,
	}, "long_slope_below_min")

	tsMin, tsSrc := e.threshold(ThresholdTSMin, StateS3, 1)
	boosted := ctx.strength + ctx.srBoost
	d.check(GateCheck{
		Name:            "boosted_strength",
		Value:           boosted,
		Threshold:       tsMin,
		ThresholdSource: tsSrc,
		Passed:          boosted >= tsMin,
	}, "strength_below_min")

	return d
}

// evalBreakTrim gates the partial de-risk when price breaks below the mid
// band while S3 alignment still holds. Breaks inside the dip halo are noise,
// and a still-strong trend skips the trim entirely.
func (e *Engine) evalBreakTrim(ctx gateContext) GateDecision {
	d := GateDecision{
		PatternKey: patterns.PatternS3BreakTrim,
		Category:   patterns.ActionTrim,
		RefPrice:   ctx.in.Price,
	}

	depth := 0.0
	if ctx.in.EMAs.Mid > 0 {
		depth = (ctx.in.EMAs.Mid - ctx.in.Price) / ctx.in.EMAs.Mid
	}
	halo, haloSrc := e.threshold(ThresholdHalo, StateS3, 1)
	d.check(GateCheck{
		Name:            "break_depth_pct",
		Value:           depth,
		Threshold:       halo,
		ThresholdSource: haloSrc,
		Passed:          depth > halo,
	}, "inside_halo")

	trimMax, trimSrc := e.threshold(ThresholdTrimTSMax, StateS3, 1)
	d.check(GateCheck{
		Name:            "trend_strength",
		Value:           ctx.strength,
		Threshold:       trimMax,
		ThresholdSource: trimSrc,
		Passed:          ctx.strength <= trimMax,
	}, "trend_still_strong")

	return d
}

// evalBearFlipExit gates the full exit when alignment flips bearish.
func (e *Engine) evalBearFlipExit(ctx gateContext) GateDecision {
	d := GateDecision{
		PatternKey: patterns.PatternBearFlipExit,
		Category:   patterns.ActionExit,
		RefPrice:   ctx.in.Price,
	}

	spread := 0.0
	if ctx.in.EMAs.Mid > 0 {
		spread = (ctx.in.EMAs.Mid - ctx.in.EMAs.Fast) / ctx.in.EMAs.Mid
	}
	spreadMin, spreadSrc := e.threshold(ThresholdExitSpreadMin, StateS0, 1)
	d.check(GateCheck{
		Name:            "bear_spread_pct",
		Value:           spread,
		Threshold:       spreadMin,
		ThresholdSource: spreadSrc,
		Passed:          spread >= spreadMin,
	}, "spread_below_min")

	return d
}

// check appends one condition record and folds a failure into the decision.
func (d *GateDecision) check(c GateCheck, rejectReason string) {
	d.Checks = append(d.Checks, c)
	if len(d.Checks) == 1 {
		d.Passed = c.Passed
	} else {
		d.Passed = d.Passed && c.Passed
	}
	if !c.Passed && d.RejectReason == "" {
		d.RejectReason = rejectReason
	}
}

// threshold resolves one gate threshold for this position's timeframe.
func (e *Engine) threshold(name string, phase TrendState, level int) (float64, string) {
	return e.thresholds.Threshold(name, e.key.Timeframe, string(phase), level)
}
