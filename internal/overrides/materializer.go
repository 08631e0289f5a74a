package overrides

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"
)

// ============================================================================
// OVERRIDE MATERIALIZER
// ============================================================================

// MaterializeResult summarizes one materializer cycle.
type MaterializeResult struct {
	Generation     int64 `json:"generation"`
	LessonsSeen    int   `json:"lessons_seen"`
	Written        int   `json:"written"`
	Touched        int   `json:"touched"`
	NeutralSkipped int   `json:"neutral_skipped"`
	BridgeWritten  int   `json:"bridge_written"`
	RowErrors      int   `json:"row_errors"`
	Retired        int64 `json:"retired"`
	BridgeRetired  int64 `json:"bridge_retired"`
}

// Materializer converts active lessons of the latest mined generation into
// override rows and their threshold bridge projections. It is the sole writer
// of override rows; reusing the lesson generation keeps its cycles idempotent
// the same way the miner's are.
type Materializer struct {
	module string
	source LessonSource
	store  OverrideStore
	cfg    config.MiningConfig
	logger zerolog.Logger
}

// NewMaterializer creates an override materializer over one module's lessons.
func NewMaterializer(source LessonSource, store OverrideStore, cfg config.MiningConfig, logger zerolog.Logger) *Materializer {
	return &Materializer{
		module: lessons.DefaultModule,
		source: source,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "OverrideMaterializer").Logger(),
	}
}

// Materialize runs one cycle against the latest lesson generation: compute
// candidate multipliers per lesson, write the rows that clear the no-op
// guard, restamp the ones it holds, then retire everything the cycle did not
// re-materialize.
func (m *Materializer) Materialize(ctx context.Context) (MaterializeResult, error) {
	var res MaterializeResult

	gen, err := m.source.LatestLessonGeneration(ctx, m.module)
	if err != nil {
		return res, err
	}
	if gen == 0 {
		m.logger.Debug().Msg("No mined generation yet, nothing to materialize")
		return res, nil
	}
	res.Generation = gen

	active, err := m.source.ActiveLessons(ctx, m.module, gen)
	if err != nil {
		return res, err
	}
	res.LessonsSeen = len(active)
	sort.Slice(active, func(i, j int) bool {
		return active[i].Key.String() < active[j].Key.String()
	})

	existing, err := m.store.ActiveOverrides(ctx)
	if err != nil {
		return res, err
	}
	current := make(map[string]Override, len(existing))
	for _, ov := range existing {
		current[ov.Key.String()] = ov
	}

	for _, lesson := range active {
		for _, cand := range m.candidates(lesson) {
			m.apply(ctx, cand, current, gen, &res)
		}
	}

	retired, err := m.store.RetireOverridesNotInGeneration(ctx, gen)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to retire stale overrides")
	}
	res.Retired = retired

	bridgeRetired, err := m.store.RetireThresholdOverridesNotInGeneration(ctx, gen)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to retire stale threshold overrides")
	}
	res.BridgeRetired = bridgeRetired

	m.logger.Info().
		Int64("generation", res.Generation).
		Int("lessons", res.LessonsSeen).
		Int("written", res.Written).
		Int("touched", res.Touched).
		Int("neutral_skipped", res.NeutralSkipped).
		Int("bridge_written", res.BridgeWritten).
		Int("errors", res.RowErrors).
		Int64("retired", res.Retired).
		Int64("bridge_retired", res.BridgeRetired).
		Msg("Materializer cycle complete")
	return res, nil
}

// candidates computes the override rows one lesson proposes. Pressure yields
// the opposed drift pair; an edge past the activation floor yields a strength
// multiplier. Confidence carries the lesson's reliability times decay.
func (m *Materializer) candidates(lesson lessons.Lesson) []Override {
	var out []Override
	conf := lesson.Stats.Reliability * lesson.Stats.Decay

	if lesson.Stats.Pressure != 0 {
		drift := m.cfg.LearningRate * lesson.Stats.Pressure
		out = append(out,
			m.candidate(lesson, KindThresholdDrift, clampFloat(math.Exp(-drift), m.cfg.DriftClampMin, m.cfg.DriftClampMax), conf),
			m.candidate(lesson, KindHaloDrift, clampFloat(math.Exp(drift), m.cfg.DriftClampMin, m.cfg.DriftClampMax), conf),
		)
	}

	if math.Abs(lesson.Stats.EdgeRaw) >= m.cfg.ActivationFloor {
		mult := clampFloat(1.0+lesson.Stats.EdgeRaw, m.cfg.StrengthClampMin, m.cfg.StrengthClampMax)
		out = append(out, m.candidate(lesson, KindStrength, mult, conf))
	}
	return out
}

func (m *Materializer) candidate(lesson lessons.Lesson, kind OverrideKind, mult, conf float64) Override {
	return Override{
		Key: OverrideKey{
			PatternKey:  lesson.Key.PatternKey,
			Category:    lesson.Key.Category,
			ScopeSubset: lesson.Key.ScopeSubset,
			Kind:        kind,
		},
		Multiplier: mult,
		Confidence: conf,
		LessonN:    lesson.N,
	}
}

// apply writes one candidate through the no-op guard. A candidate within the
// guard of an existing row is restamped at the held multiplier so generation
// retirement keeps it; one within the guard of neutral with no existing row
// never materializes. Drift rows for the global slice also project through
// the binding table into threshold bridge rows.
func (m *Materializer) apply(ctx context.Context, cand Override, current map[string]Override, gen int64, res *MaterializeResult) {
	cand.Generation = gen
	cand.Status = StatusActive

	effective := 1.0
	prev, exists := current[cand.Key.String()]
	if exists {
		effective = prev.Multiplier
	}

	held := false
	if math.Abs(cand.Multiplier-effective) <= m.cfg.NoopGuard*effective {
		if !exists {
			res.NeutralSkipped++
			return
		}
		cand.Multiplier = prev.Multiplier
		held = true
	}

	if err := m.store.UpsertOverride(ctx, cand); err != nil {
		res.RowErrors++
		m.logger.Error().Err(err).
			Str("override_key", cand.Key.String()).
			Msg("Failed to upsert override")
		return
	}
	if held {
		res.Touched++
	} else {
		res.Written++
	}

	if cand.Key.Kind != KindStrength && cand.Key.ScopeSubset == "" {
		m.project(ctx, cand, gen, res)
	}
}

// project writes the threshold bridge rows for one drift override. The
// timeframe stays empty: drift applies across timeframes until a scoped
// lesson dimension says otherwise.
func (m *Materializer) project(ctx context.Context, ov Override, gen int64, res *MaterializeResult) {
	for _, b := range DriftBindings(ov.Key.PatternKey) {
		if b.Kind != ov.Key.Kind {
			continue
		}
		row := ThresholdOverride{
			Name:       b.Name,
			Timeframe:  "",
			Phase:      b.Phase,
			Level:      b.Level,
			Multiplier: ov.Multiplier,
			PatternKey: ov.Key.PatternKey,
			Kind:       ov.Key.Kind,
			Generation: gen,
			Status:     StatusActive,
		}
		if err := m.store.UpsertThresholdOverride(ctx, row); err != nil {
			res.RowErrors++
			m.logger.Error().Err(err).
				Str("threshold", b.Name).
				Str("phase", b.Phase).
				Msg("Failed to upsert threshold override")
			continue
		}
		res.BridgeWritten++
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	} else if v > hi {
		return hi
	}
	return v
}
