package database

import (
	"context"
	"time"
)

// ============================================================================
// THRESHOLD RESOLUTION
// ============================================================================

// ThresholdDefault is one persisted base threshold row. Empty timeframe or
// phase and level zero act as wildcards during resolution.
type ThresholdDefault struct {
	Name      string    `json:"name"`
	Timeframe string    `json:"timeframe,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Level     int       `json:"level,omitempty"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResolveThreshold resolves one threshold against the persisted layer: the
// most specific matching default row times the most specific active drift
// multiplier. Both lookups prefer level over phase over timeframe, matching
// the cache's fallback chain. Returns found=false when no default row
// matches, letting the cache fall through to its compiled values.
func (r *Repository) ResolveThreshold(ctx context.Context, name, timeframe, phase string, level int) (float64, bool, error) {
	query := `
		SELECT
			(SELECT d.value
			 FROM threshold_defaults d
			 WHERE d.name = $1
			   AND (d.timeframe = $2 OR d.timeframe = '')
			   AND (d.phase = $3 OR d.phase = '')
			   AND (d.level = $4 OR d.level = 0)
			 ORDER BY (d.level <> 0) DESC, (d.phase <> '') DESC, (d.timeframe <> '') DESC
			 LIMIT 1),
			COALESCE(
			(SELECT o.multiplier
			 FROM threshold_overrides o
			 WHERE o.status = 'active'
			   AND o.name = $1
			   AND (o.timeframe = $2 OR o.timeframe = '')
			   AND (o.phase = $3 OR o.phase = '')
			   AND (o.level = $4 OR o.level = 0)
			 ORDER BY (o.level <> 0) DESC, (o.phase <> '') DESC, (o.timeframe <> '') DESC
			 LIMIT 1), 1.0)
	`
	var base *float64
	var multiplier float64
	if err := r.db.Pool.QueryRow(ctx, query, name, timeframe, phase, level).Scan(&base, &multiplier); err != nil {
		return 0, false, err
	}
	if base == nil {
		return 0, false, nil
	}
	return *base * multiplier, true, nil
}

// UpsertThresholdDefault writes one base threshold row.
func (r *Repository) UpsertThresholdDefault(ctx context.Context, def ThresholdDefault) error {
	query := `
		INSERT INTO threshold_defaults (name, timeframe, phase, level, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, timeframe, phase, level) DO UPDATE SET
			value = EXCLUDED.value
	`
	_, err := r.db.Pool.Exec(ctx, query, def.Name, def.Timeframe, def.Phase, def.Level, def.Value)
	return err
}

// DeleteThresholdDefault removes one base threshold row. Returns whether a
// row existed.
func (r *Repository) DeleteThresholdDefault(ctx context.Context, name, timeframe, phase string, level int) (bool, error) {
	query := `
		DELETE FROM threshold_defaults
		WHERE name = $1 AND timeframe = $2 AND phase = $3 AND level = $4
	`
	tag, err := r.db.Pool.Exec(ctx, query, name, timeframe, phase, level)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListThresholdDefaults returns every persisted base row in name order.
func (r *Repository) ListThresholdDefaults(ctx context.Context) ([]ThresholdDefault, error) {
	query := `
		SELECT name, timeframe, phase, level, value, updated_at
		FROM threshold_defaults
		ORDER BY name, timeframe, phase, level
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThresholdDefault
	for rows.Next() {
		var def ThresholdDefault
		if err := rows.Scan(&def.Name, &def.Timeframe, &def.Phase, &def.Level, &def.Value, &def.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}
