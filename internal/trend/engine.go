package trend

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
)

// Stale reasons reported on held evaluations.
const (
	StaleInvalidBar = "invalid_bar"
	StaleOutOfOrder = "out_of_order"
	StaleWarmingUp  = "warming_up"
)

// supportLookback is the bar count scanned for support level clustering.
const supportLookback = 64

// Engine evaluates trend state for one position, one closed bar at a time.
// The bar dispatcher serializes Evaluate calls per position; reads may come
// from any goroutine.
type Engine struct {
	key        PositionKey
	cfg        config.EngineConfig
	thresholds ThresholdSource
	logger     zerolog.Logger

	mu          sync.RWMutex
	emas        *emaSet
	window      *barWindow
	state       TrendState
	prevState   TrendState
	barsInState int
	lastBarTime time.Time
	dipFired    bool
	trimFired   bool
	lastSnap    EngineSnapshot
}

// NewEngine creates an engine in S4 with an unseeded EMA stack.
func NewEngine(key PositionKey, cfg config.EngineConfig, thresholds ThresholdSource, logger zerolog.Logger) *Engine {
	return &Engine{
		key:        key,
		cfg:        cfg,
		thresholds: thresholds,
		logger: logger.With().
			Str("component", "TrendEngine").
			Str("position", key.String()).
			Logger(),
		emas:      newEMASet(cfg.FastPeriod, cfg.MidPeriod, cfg.SlowPeriod, cfg.LongPeriod, cfg.SlopeLookback),
		window:    newBarWindow(cfg.BarWindowSize),
		state:     StateS4,
		prevState: StateS4,
	}
}

// Evaluate ingests one closed bar and returns the resulting snapshot. Bad
// input never surfaces as an error: the engine holds its state and flags the
// snapshot stale instead.
func (e *Engine) Evaluate(bar Bar) EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !bar.Valid() {
		return e.hold(bar, StaleInvalidBar)
	}
	if !e.lastBarTime.IsZero() && !bar.Timestamp.After(e.lastBarTime) {
		return e.hold(bar, StaleOutOfOrder)
	}

	prevEMAs := e.emas.values()
	prevReady := e.emas.ready()
	e.window.push(bar)
	e.lastBarTime = bar.Timestamp
	e.emas.update(bar.Close)
	if !e.emas.ready() || !prevReady {
		// The first ready bar still lacks a prior stack for cross detection.
		return e.hold(bar, StaleWarmingUp)
	}

	in := TransitionInput{
		Price:    bar.Close,
		EMAs:     e.emas.values(),
		PrevEMAs: prevEMAs,
		Slopes:   e.emas.slopes(),
	}

	from := e.state
	next := Transition(from, in)
	e.prevState = from
	if next != from {
		e.state = next
		e.barsInState = 1
		e.dipFired = false
		e.trimFired = false
		e.logger.Info().
			Str("from", string(from)).
			Str("to", string(next)).
			Float64("price", bar.Close).
			Time("bar_time", bar.Timestamp).
			Msg("Trend state changed")
	} else {
		e.barsInState++
	}

	strength := TrendStrength(in)
	srBoost := 0.0
	if e.state == StateS3 {
		levels := supportLevels(e.window.tail(supportLookback), e.cfg.SupportTolerance)
		if isPriceAtSupport(bar.Close, levels, e.cfg.SupportTolerance) {
			srBoost = e.cfg.SupportBoost
		}
	}

	gates := e.runGates(gateContext{
		in:          in,
		fromState:   from,
		newState:    e.state,
		barsInState: e.barsInState,
		strength:    strength,
		srBoost:     srBoost,
		barTime:     bar.Timestamp,
	})

	snap := EngineSnapshot{
		Key:         e.key,
		State:       e.state,
		PrevState:   e.prevState,
		BarsInState: e.barsInState,
		BarTime:     bar.Timestamp,
		Price:       bar.Close,
		EMAs:        in.EMAs,
		Slopes:      in.Slopes,
		Scope:       computeScope(e.window.tail(scopeLookback+1), bar.Timestamp),
		Diagnostics: buildDiagnostics(e.state, in, e.barsInState, strength, srBoost, gates),
		Decisions:   gates.decisions,
		Intents:     gates.intents,
		EvaluatedAt: time.Now().UTC(),
	}
	e.lastSnap = snap
	return snap
}

// hold records a stale evaluation without advancing the machine.
func (e *Engine) hold(bar Bar, reason string) EngineSnapshot {
	e.logger.Debug().
		Str("reason", reason).
		Time("bar_time", bar.Timestamp).
		Msg("Evaluation held, state unchanged")

	snap := EngineSnapshot{
		Key:         e.key,
		State:       e.state,
		PrevState:   e.state,
		BarsInState: e.barsInState,
		BarTime:     bar.Timestamp,
		Price:       bar.Close,
		EMAs:        e.emas.values(),
		Slopes:      e.emas.slopes(),
		Stale:       true,
		StaleReason: reason,
		EvaluatedAt: time.Now().UTC(),
	}
	e.lastSnap = snap
	return snap
}

// Snapshot returns the result of the most recent evaluation.
func (e *Engine) Snapshot() EngineSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSnap
}

// State returns the current trend state.
func (e *Engine) State() TrendState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Restore primes a fresh engine from a persisted snapshot so a restart skips
// the EMA warm-up. Only meaningful before the first Evaluate call.
func (e *Engine) Restore(snap EngineSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st, err := ParseTrendState(string(snap.State)); err == nil {
		e.state = st
	}
	if st, err := ParseTrendState(string(snap.PrevState)); err == nil {
		e.prevState = st
	}
	e.barsInState = snap.BarsInState
	e.lastBarTime = snap.BarTime
	e.emas.restore(snap.EMAs)
	e.lastSnap = snap
}

// ClosesSince returns the close prices of retained bars strictly after t,
// oldest first. Backs episode outcome resolution.
func (e *Engine) ClosesSince(t time.Time) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bars := e.window.since(t)
	if len(bars) == 0 {
		return nil
	}
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// buildDiagnostics assembles the per-state diagnostics variant.
func buildDiagnostics(state TrendState, in TransitionInput, barsInState int, strength, srBoost float64, gates gateOutcome) StateDiagnostics {
	switch state {
	case StateS0:
		return S0Diagnostics{
			FastBelowMidPct: pctBelow(in.EMAs.Fast, in.EMAs.Mid),
			MidBelowSlowPct: pctBelow(in.EMAs.Mid, in.EMAs.Slow),
			ExitGate:        gates.exitGate,
		}
	case StateS1:
		return S1Diagnostics{
			CrossAgeBars: barsInState,
			SlowSlope:    in.Slopes.Slow,
			Strength:     strength,
			EntryGate:    gates.entryGate,
		}
	case StateS2:
		return S2Diagnostics{
			PriceAboveSlowPct: relPct(in.Price, in.EMAs.Slow),
			MidSlope:          in.Slopes.Mid,
			Strength:          strength,
			AddGate:           gates.addGate,
		}
	case StateS3:
		return S3Diagnostics{
			BarsSinceConfirm: barsInState,
			DipDistancePct:   absPct(in.Price, in.EMAs.Mid),
			LongSlope:        in.Slopes.Long,
			Strength:         strength,
			SupportBoost:     srBoost,
			DipGate:          gates.dipGate,
			TrimGate:         gates.trimGate,
		}
	default:
		return S4Diagnostics{
			BarsUnaligned:  barsInState,
			FastVsMidPct:   relPct(in.EMAs.Fast, in.EMAs.Mid),
			MidVsSlowPct:   relPct(in.EMAs.Mid, in.EMAs.Slow),
			PriceVsSlowPct: relPct(in.Price, in.EMAs.Slow),
		}
	}
}

func pctBelow(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (b - a) / b
}

func relPct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (a - b) / b
}

func absPct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return math.Abs(a-b) / b
}
