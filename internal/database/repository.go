package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/cache"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/overrides"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/posture"
)

// Repository provides data access methods
type Repository struct {
	db     *DB
	logger zerolog.Logger
}

// The repository backs every persistence consumer in the learning loop.
var (
	_ patterns.EventStore     = (*Repository)(nil)
	_ lessons.EventSource     = (*Repository)(nil)
	_ lessons.LessonStore     = (*Repository)(nil)
	_ overrides.LessonSource  = (*Repository)(nil)
	_ overrides.OverrideStore = (*Repository)(nil)
	_ cache.ThresholdStore    = (*Repository)(nil)
	_ posture.StrengthSource  = (*Repository)(nil)
)

// NewRepository creates a new repository
func NewRepository(db *DB, logger zerolog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.With().Str("component", "Repository").Logger(),
	}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// GetDB returns the underlying DB instance
func (r *Repository) GetDB() *DB {
	return r.db
}

// ============================================================================
// PATTERN TRADE EVENTS
// ============================================================================

// AppendTradeEvent inserts one executed-action event. The stream is
// append-only; a redelivered event ID is dropped silently.
func (r *Repository) AppendTradeEvent(ctx context.Context, ev patterns.PatternTradeEvent) error {
	scope, err := json.Marshal(ev.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal trade event scope: %w", err)
	}
	query := `
		INSERT INTO pattern_trade_events (id, trade_id, position, pattern_key, action_category, scope, realized_rr, pnl, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		ev.ID, ev.TradeID, ev.Position, ev.PatternKey, string(ev.Category),
		scope, ev.RealizedRR, ev.PnL, ev.Timestamp,
	)
	return err
}

// TradeEventsBetween returns the executed-action events inside the mining
// window, oldest first.
func (r *Repository) TradeEventsBetween(ctx context.Context, from, to time.Time) ([]patterns.PatternTradeEvent, error) {
	query := `
		SELECT id, trade_id, position, pattern_key, action_category, scope, realized_rr, pnl, timestamp
		FROM pattern_trade_events
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []patterns.PatternTradeEvent
	for rows.Next() {
		var ev patterns.PatternTradeEvent
		var category string
		var scope []byte
		err := rows.Scan(
			&ev.ID, &ev.TradeID, &ev.Position, &ev.PatternKey, &category,
			&scope, &ev.RealizedRR, &ev.PnL, &ev.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		ev.Category = patterns.ActionCategory(category)
		if err := json.Unmarshal(scope, &ev.Scope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade event scope: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ============================================================================
// PATTERN EPISODE EVENTS
// ============================================================================

const episodeColumns = `id, position, pattern_key, action_category, scope, decision, outcome, factors, ref_price, timestamp, resolved_at`

// AppendEpisodeEvent inserts one decision-point event, outcome pending.
func (r *Repository) AppendEpisodeEvent(ctx context.Context, ev patterns.PatternEpisodeEvent) error {
	scope, err := json.Marshal(ev.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal episode scope: %w", err)
	}
	factors, err := json.Marshal(ev.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal episode factors: %w", err)
	}
	query := `
		INSERT INTO pattern_episode_events (id, position, pattern_key, action_category, scope, decision, outcome, factors, ref_price, timestamp, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		ev.ID, ev.Position, ev.PatternKey, string(ev.Category), scope,
		string(ev.Decision), string(ev.Outcome), factors, ev.RefPrice,
		ev.Timestamp, ev.ResolvedAt,
	)
	return err
}

// PendingEpisodes returns unresolved decision points recorded at or before
// the cutoff, oldest first.
func (r *Repository) PendingEpisodes(ctx context.Context, before time.Time) ([]patterns.PatternEpisodeEvent, error) {
	query := `
		SELECT ` + episodeColumns + `
		FROM pattern_episode_events
		WHERE outcome = 'pending' AND timestamp <= $1
		ORDER BY timestamp ASC
	`
	return r.queryEpisodes(ctx, query, before)
}

// ResolveEpisode settles one pending decision point. Resolution is
// monotonic: an already-settled episode is left untouched.
func (r *Repository) ResolveEpisode(ctx context.Context, id string, outcome patterns.Outcome, resolvedAt time.Time) error {
	query := `
		UPDATE pattern_episode_events
		SET outcome = $2, resolved_at = $3
		WHERE id = $1 AND outcome = 'pending'
	`
	_, err := r.db.Pool.Exec(ctx, query, id, string(outcome), resolvedAt)
	return err
}

// EpisodesBetween returns every decision point inside the mining window,
// resolved or not, oldest first. The miner counts pending rows itself.
func (r *Repository) EpisodesBetween(ctx context.Context, from, to time.Time) ([]patterns.PatternEpisodeEvent, error) {
	query := `
		SELECT ` + episodeColumns + `
		FROM pattern_episode_events
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC
	`
	return r.queryEpisodes(ctx, query, from, to)
}

func (r *Repository) queryEpisodes(ctx context.Context, query string, args ...interface{}) ([]patterns.PatternEpisodeEvent, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []patterns.PatternEpisodeEvent
	for rows.Next() {
		var ev patterns.PatternEpisodeEvent
		var category, decision, outcome string
		var scope, factors []byte
		err := rows.Scan(
			&ev.ID, &ev.Position, &ev.PatternKey, &category, &scope,
			&decision, &outcome, &factors, &ev.RefPrice, &ev.Timestamp, &ev.ResolvedAt,
		)
		if err != nil {
			return nil, err
		}
		ev.Category = patterns.ActionCategory(category)
		ev.Decision = patterns.Decision(decision)
		ev.Outcome = patterns.Outcome(outcome)
		if err := json.Unmarshal(scope, &ev.Scope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal episode scope: %w", err)
		}
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &ev.Factors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal episode factors: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
