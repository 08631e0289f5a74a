package lessons

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// ============================================================================
// TUNING / LESSON MINER
// ============================================================================

// MineResult summarizes one mining cycle.
type MineResult struct {
	Generation     int64     `json:"generation"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	TradesSeen     int       `json:"trades_seen"`
	EpisodesSeen   int       `json:"episodes_seen"`
	SlicesSeen     int       `json:"slices_seen"`
	LessonsWritten int       `json:"lessons_written"`
	SlicesSkipped  int       `json:"slices_skipped"`
	SliceErrors    int       `json:"slice_errors"`
	Retired        int64     `json:"retired"`
}

// Miner aggregates trade and episode events into lessons on a fixed cadence.
// It is the sole writer of lesson rows and its cycles are idempotent: mining
// the same window twice writes identical rows under the same generation.
type Miner struct {
	module string
	events EventSource
	store  LessonStore
	cfg    config.MiningConfig
	logger zerolog.Logger
}

// NewMiner creates a lesson miner for one module's events.
func NewMiner(events EventSource, store LessonStore, cfg config.MiningConfig, logger zerolog.Logger) *Miner {
	return &Miner{
		module: DefaultModule,
		events: events,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "LessonMiner").Logger(),
	}
}

// Mine runs one cycle over the lookback window ending at windowEnd. The
// generation is derived from the window end, so re-running an unchanged
// window is a no-op rewrite of the same rows.
func (m *Miner) Mine(ctx context.Context, windowEnd time.Time) (MineResult, error) {
	windowEnd = windowEnd.UTC().Truncate(time.Second)
	windowStart := windowEnd.Add(-m.cfg.Lookback)
	res := MineResult{
		Generation:  windowEnd.Unix(),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}

	trades, err := m.events.TradeEventsBetween(ctx, windowStart, windowEnd)
	if err != nil {
		return res, err
	}
	episodes, err := m.events.EpisodesBetween(ctx, windowStart, windowEnd)
	if err != nil {
		return res, err
	}
	res.TradesSeen = len(trades)
	res.EpisodesSeen = len(episodes)

	baseline := globalBaseline(trades)
	slices := m.aggregate(trades, episodes)
	res.SlicesSeen = len(slices)

	keys := make([]string, 0, len(slices))
	for k := range slices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		agg := slices[k]
		if len(agg.tradeRRs) < m.cfg.MinSampleTrades {
			res.SlicesSkipped++
			continue
		}
		lesson := m.buildLesson(agg, baseline, res.Generation, windowStart, windowEnd)
		if err := m.store.UpsertLesson(ctx, lesson); err != nil {
			// One bad slice must not abort the rest of the run.
			res.SliceErrors++
			m.logger.Error().Err(err).
				Str("lesson_key", lesson.Key.String()).
				Msg("Failed to upsert lesson")
			continue
		}
		res.LessonsWritten++
	}

	retired, err := m.store.RetireLessonsNotInGeneration(ctx, m.module, res.Generation)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to retire stale lessons")
	}
	res.Retired = retired

	m.logger.Info().
		Int64("generation", res.Generation).
		Int("trades", res.TradesSeen).
		Int("episodes", res.EpisodesSeen).
		Int("lessons", res.LessonsWritten).
		Int("skipped", res.SlicesSkipped).
		Int("errors", res.SliceErrors).
		Int64("retired", res.Retired).
		Msg("Mining cycle complete")
	return res, nil
}

// sliceAgg accumulates one (pattern, category, scope-subset) slice.
type sliceAgg struct {
	key       LessonKey
	tradeRRs  map[string][]float64 // trade_id -> raw per-event R/Rs
	lastTrade time.Time
	counts    EpisodeCounts
}

// aggregate fans every event out to the power set of its scope tags.
func (m *Miner) aggregate(trades []patterns.PatternTradeEvent, episodes []patterns.PatternEpisodeEvent) map[string]*sliceAgg {
	slices := make(map[string]*sliceAgg)

	get := func(key LessonKey) *sliceAgg {
		ks := key.String()
		agg, ok := slices[ks]
		if !ok {
			agg = &sliceAgg{key: key, tradeRRs: make(map[string][]float64)}
			slices[ks] = agg
		}
		return agg
	}

	for _, ev := range trades {
		if ev.TradeID == "" {
			continue
		}
		for _, subset := range ev.Scope.Subsets() {
			agg := get(LessonKey{
				Module:      m.module,
				PatternKey:  ev.PatternKey,
				Category:    ev.Category,
				ScopeSubset: subset.Canonical(),
			})
			agg.tradeRRs[ev.TradeID] = append(agg.tradeRRs[ev.TradeID], ev.RealizedRR)
			if ev.Timestamp.After(agg.lastTrade) {
				agg.lastTrade = ev.Timestamp
			}
		}
	}

	for _, ep := range episodes {
		for _, subset := range ep.Scope.Subsets() {
			agg := get(LessonKey{
				Module:      m.module,
				PatternKey:  ep.PatternKey,
				Category:    ep.Category,
				ScopeSubset: subset.Canonical(),
			})
			switch {
			case ep.Outcome == patterns.OutcomePending:
				agg.counts.Pending++
			case ep.Decision == patterns.DecisionActed && ep.Outcome == patterns.OutcomeSuccess:
				agg.counts.ActedSuccess++
			case ep.Decision == patterns.DecisionActed && ep.Outcome == patterns.OutcomeFailure:
				agg.counts.ActedFailure++
			case ep.Decision == patterns.DecisionSkipped && ep.Outcome == patterns.OutcomeSuccess:
				agg.counts.SkippedSuccess++
			case ep.Decision == patterns.DecisionSkipped && ep.Outcome == patterns.OutcomeFailure:
				agg.counts.SkippedFailure++
			}
		}
	}

	return slices
}

// buildLesson computes the slice statistics.
func (m *Miner) buildLesson(agg *sliceAgg, baseline float64, generation int64, windowStart, windowEnd time.Time) Lesson {
	rrs := perTradeRRs(agg.tradeRRs)
	n := len(rrs)

	avgRR := 0.0
	for _, rr := range rrs {
		avgRR += rr
	}
	if n > 0 {
		avgRR /= float64(n)
	}

	reliability := Reliability(rrs, ReliabilityParams{
		SamplePrior: m.cfg.ReliabilityPrior,
		VarPrior:    m.cfg.VariancePrior,
		VarPriorObs: m.cfg.VariancePriorObs,
	})
	decay := Decay(windowEnd.Sub(agg.lastTrade), m.cfg.DecayHalfLife)
	deltaRR := avgRR - baseline

	c := agg.counts
	stats := LessonStats{
		WinRate:     rate(c.ActedSuccess, c.ActedSuccess+c.ActedFailure),
		FPRate:      rate(c.ActedFailure, c.ActedSuccess+c.ActedFailure),
		MissRate:    rate(c.SkippedSuccess, c.SkippedSuccess+c.SkippedFailure),
		DodgeRate:   rate(c.SkippedFailure, c.SkippedSuccess+c.SkippedFailure),
		Pressure:    float64(c.SkippedSuccess - c.ActedFailure),
		AvgRR:       avgRR,
		DeltaRR:     deltaRR,
		Reliability: reliability,
		Decay:       decay,
		EdgeRaw:     deltaRR * reliability * decay,
	}

	return Lesson{
		Key:         agg.key,
		N:           n,
		Counts:      c,
		Stats:       stats,
		Status:      StatusActive,
		Generation:  generation,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
}

// perTradeRRs collapses raw events into one mean R/R per distinct trade,
// ordered by trade ID for determinism.
func perTradeRRs(byTrade map[string][]float64) []float64 {
	ids := make([]string, 0, len(byTrade))
	for id := range byTrade {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]float64, 0, len(ids))
	for _, id := range ids {
		events := byTrade[id]
		sum := 0.0
		for _, rr := range events {
			sum += rr
		}
		out = append(out, sum/float64(len(events)))
	}
	return out
}

// globalBaseline is the window-wide average R/R, deduplicated per trade the
// same way slice averages are, so delta_rr compares like with like.
func globalBaseline(trades []patterns.PatternTradeEvent) float64 {
	byTrade := make(map[string][]float64)
	for _, ev := range trades {
		if ev.TradeID == "" {
			continue
		}
		byTrade[ev.TradeID] = append(byTrade[ev.TradeID], ev.RealizedRR)
	}
	rrs := perTradeRRs(byTrade)
	if len(rrs) == 0 {
		return 0
	}
	sum := 0.0
	for _, rr := range rrs {
		sum += rr
	}
	return sum / float64(len(rrs))
}

// rate divides with a zero-denominator guard; degenerate slices read neutral.
func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
