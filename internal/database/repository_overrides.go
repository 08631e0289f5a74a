package database

import (
	"context"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/overrides"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// ============================================================================
// OVERRIDES
// ============================================================================

// ActiveOverrides returns every active learned override in canonical key
// order. Serves both the materializer's diff pass and the posture
// calculator's strength read.
func (r *Repository) ActiveOverrides(ctx context.Context) ([]overrides.Override, error) {
	query := `
		SELECT pattern_key, action_category, scope_subset, kind,
		       multiplier, confidence_score, lesson_n, generation, status
		FROM overrides
		WHERE status = 'active'
		ORDER BY pattern_key, action_category, scope_subset, kind
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []overrides.Override
	for rows.Next() {
		var ov overrides.Override
		var category, kind string
		err := rows.Scan(
			&ov.Key.PatternKey, &category, &ov.Key.ScopeSubset, &kind,
			&ov.Multiplier, &ov.Confidence, &ov.LessonN, &ov.Generation, &ov.Status,
		)
		if err != nil {
			return nil, err
		}
		ov.Key.Category = patterns.ActionCategory(category)
		ov.Key.Kind = overrides.OverrideKind(kind)
		out = append(out, ov)
	}
	return out, rows.Err()
}

// UpsertOverride writes one learned override, replacing the row for the
// same key.
func (r *Repository) UpsertOverride(ctx context.Context, ov overrides.Override) error {
	query := `
		INSERT INTO overrides (pattern_key, action_category, scope_subset, kind,
			multiplier, confidence_score, lesson_n, generation, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pattern_key, action_category, scope_subset, kind) DO UPDATE SET
			multiplier = EXCLUDED.multiplier,
			confidence_score = EXCLUDED.confidence_score,
			lesson_n = EXCLUDED.lesson_n,
			generation = EXCLUDED.generation,
			status = EXCLUDED.status
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		ov.Key.PatternKey, string(ov.Key.Category), ov.Key.ScopeSubset, string(ov.Key.Kind),
		ov.Multiplier, ov.Confidence, ov.LessonN, ov.Generation, ov.Status,
	)
	return err
}

// RetireOverridesNotInGeneration flips every active override the latest
// materialization did not restamp to retired.
func (r *Repository) RetireOverridesNotInGeneration(ctx context.Context, generation int64) (int64, error) {
	query := `
		UPDATE overrides
		SET status = 'retired'
		WHERE generation <> $1 AND status = 'active'
	`
	tag, err := r.db.Pool.Exec(ctx, query, generation)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// THRESHOLD OVERRIDE BRIDGE
// ============================================================================

// UpsertThresholdOverride writes one projected drift row. The bridge keys on
// the threshold identity alone; each bound threshold belongs to exactly one
// pattern.
func (r *Repository) UpsertThresholdOverride(ctx context.Context, ov overrides.ThresholdOverride) error {
	query := `
		INSERT INTO threshold_overrides (name, timeframe, phase, level,
			multiplier, pattern_key, kind, generation, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name, timeframe, phase, level) DO UPDATE SET
			multiplier = EXCLUDED.multiplier,
			pattern_key = EXCLUDED.pattern_key,
			kind = EXCLUDED.kind,
			generation = EXCLUDED.generation,
			status = EXCLUDED.status
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		ov.Name, ov.Timeframe, ov.Phase, ov.Level,
		ov.Multiplier, ov.PatternKey, string(ov.Kind), ov.Generation, ov.Status,
	)
	return err
}

// RetireThresholdOverridesNotInGeneration flips stale bridge rows to
// retired, so resolution stops applying drift the latest run did not back.
func (r *Repository) RetireThresholdOverridesNotInGeneration(ctx context.Context, generation int64) (int64, error) {
	query := `
		UPDATE threshold_overrides
		SET status = 'retired'
		WHERE generation <> $1 AND status = 'active'
	`
	tag, err := r.db.Pool.Exec(ctx, query, generation)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ActiveThresholdOverrides lists the live bridge rows for observability.
func (r *Repository) ActiveThresholdOverrides(ctx context.Context) ([]overrides.ThresholdOverride, error) {
	query := `
		SELECT name, timeframe, phase, level, multiplier, pattern_key, kind, generation, status
		FROM threshold_overrides
		WHERE status = 'active'
		ORDER BY name, timeframe, phase, level
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []overrides.ThresholdOverride
	for rows.Next() {
		var ov overrides.ThresholdOverride
		var kind string
		err := rows.Scan(
			&ov.Name, &ov.Timeframe, &ov.Phase, &ov.Level,
			&ov.Multiplier, &ov.PatternKey, &kind, &ov.Generation, &ov.Status,
		)
		if err != nil {
			return nil, err
		}
		ov.Kind = overrides.OverrideKind(kind)
		out = append(out, ov)
	}
	return out, rows.Err()
}
