package database

import (
	"context"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// ============================================================================
// LESSONS
// ============================================================================

// UpsertLesson writes one mined slice, replacing the previous row for the
// same key. Re-mining an unchanged window rewrites identical values.
func (r *Repository) UpsertLesson(ctx context.Context, lesson lessons.Lesson) error {
	query := `
		INSERT INTO lessons (
			module, pattern_key, action_category, scope_subset, n,
			acted_success, acted_failure, skipped_success, skipped_failure, pending,
			win_rate, fp_rate, miss_rate, dodge_rate, pressure,
			avg_rr, delta_rr, reliability, decay, edge_raw,
			status, generation, window_start, window_end
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (module, pattern_key, action_category, scope_subset) DO UPDATE SET
			n = EXCLUDED.n,
			acted_success = EXCLUDED.acted_success,
			acted_failure = EXCLUDED.acted_failure,
			skipped_success = EXCLUDED.skipped_success,
			skipped_failure = EXCLUDED.skipped_failure,
			pending = EXCLUDED.pending,
			win_rate = EXCLUDED.win_rate,
			fp_rate = EXCLUDED.fp_rate,
			miss_rate = EXCLUDED.miss_rate,
			dodge_rate = EXCLUDED.dodge_rate,
			pressure = EXCLUDED.pressure,
			avg_rr = EXCLUDED.avg_rr,
			delta_rr = EXCLUDED.delta_rr,
			reliability = EXCLUDED.reliability,
			decay = EXCLUDED.decay,
			edge_raw = EXCLUDED.edge_raw,
			status = EXCLUDED.status,
			generation = EXCLUDED.generation,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		lesson.Key.Module, lesson.Key.PatternKey, string(lesson.Key.Category), lesson.Key.ScopeSubset, lesson.N,
		lesson.Counts.ActedSuccess, lesson.Counts.ActedFailure, lesson.Counts.SkippedSuccess, lesson.Counts.SkippedFailure, lesson.Counts.Pending,
		lesson.Stats.WinRate, lesson.Stats.FPRate, lesson.Stats.MissRate, lesson.Stats.DodgeRate, lesson.Stats.Pressure,
		lesson.Stats.AvgRR, lesson.Stats.DeltaRR, lesson.Stats.Reliability, lesson.Stats.Decay, lesson.Stats.EdgeRaw,
		string(lesson.Status), lesson.Generation, lesson.WindowStart, lesson.WindowEnd,
	)
	return err
}

// RetireLessonsNotInGeneration flips every active lesson the latest mining
// run did not re-mine to retired. Returns the number of rows retired.
func (r *Repository) RetireLessonsNotInGeneration(ctx context.Context, module string, generation int64) (int64, error) {
	query := `
		UPDATE lessons
		SET status = 'retired'
		WHERE module = $1 AND generation <> $2 AND status = 'active'
	`
	tag, err := r.db.Pool.Exec(ctx, query, module, generation)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LatestLessonGeneration returns the newest active generation for the
// module, zero when nothing has been mined yet.
func (r *Repository) LatestLessonGeneration(ctx context.Context, module string) (int64, error) {
	query := `
		SELECT COALESCE(MAX(generation), 0)
		FROM lessons
		WHERE module = $1 AND status = 'active'
	`
	var generation int64
	err := r.db.Pool.QueryRow(ctx, query, module).Scan(&generation)
	return generation, err
}

// ActiveLessons returns the active lessons of one generation in canonical
// key order.
func (r *Repository) ActiveLessons(ctx context.Context, module string, generation int64) ([]lessons.Lesson, error) {
	query := `
		SELECT module, pattern_key, action_category, scope_subset, n,
		       acted_success, acted_failure, skipped_success, skipped_failure, pending,
		       win_rate, fp_rate, miss_rate, dodge_rate, pressure,
		       avg_rr, delta_rr, reliability, decay, edge_raw,
		       status, generation, window_start, window_end
		FROM lessons
		WHERE module = $1 AND generation = $2 AND status = 'active'
		ORDER BY module, pattern_key, action_category, scope_subset
	`
	rows, err := r.db.Pool.Query(ctx, query, module, generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lessons.Lesson
	for rows.Next() {
		var lesson lessons.Lesson
		var category, status string
		err := rows.Scan(
			&lesson.Key.Module, &lesson.Key.PatternKey, &category, &lesson.Key.ScopeSubset, &lesson.N,
			&lesson.Counts.ActedSuccess, &lesson.Counts.ActedFailure, &lesson.Counts.SkippedSuccess, &lesson.Counts.SkippedFailure, &lesson.Counts.Pending,
			&lesson.Stats.WinRate, &lesson.Stats.FPRate, &lesson.Stats.MissRate, &lesson.Stats.DodgeRate, &lesson.Stats.Pressure,
			&lesson.Stats.AvgRR, &lesson.Stats.DeltaRR, &lesson.Stats.Reliability, &lesson.Stats.Decay, &lesson.Stats.EdgeRaw,
			&status, &lesson.Generation, &lesson.WindowStart, &lesson.WindowEnd,
		)
		if err != nil {
			return nil, err
		}
		lesson.Key.Category = patterns.ActionCategory(category)
		lesson.Status = lessons.LessonStatus(status)
		out = append(out, lesson)
	}
	return out, rows.Err()
}
