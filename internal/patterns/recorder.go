package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventStore is the slice of the record store the recorder needs. Implemented
// by the Postgres repository and by the in-memory store in tests.
type EventStore interface {
	AppendTradeEvent(ctx context.Context, ev PatternTradeEvent) error
	AppendEpisodeEvent(ctx context.Context, ev PatternEpisodeEvent) error
	PendingEpisodes(ctx context.Context, before time.Time) ([]PatternEpisodeEvent, error)
	ResolveEpisode(ctx context.Context, id string, outcome Outcome, resolvedAt time.Time) error
}

// Recorder appends trade and episode events to the store. A nil store turns
// the recorder into a no-op, which keeps the evaluation path alive when
// persistence is not configured.
type Recorder struct {
	store  EventStore
	logger zerolog.Logger
}

// NewRecorder creates an event recorder.
func NewRecorder(store EventStore, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "PatternRecorder").Logger(),
	}
}

// RecordAction appends one PatternTradeEvent for an executed action. The
// execution boundary supplies the realized figures; the recorder only assigns
// the event ID and timestamps missing timestamps.
func (r *Recorder) RecordAction(ctx context.Context, ev PatternTradeEvent) error {
	if r.store == nil {
		return nil
	}
	if ev.TradeID == "" {
		return fmt.Errorf("trade event without trade_id for pattern %s", ev.PatternKey)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := r.store.AppendTradeEvent(ctx, ev); err != nil {
		r.logger.Warn().
			Str("trade_id", ev.TradeID).
			Str("pattern_key", ev.PatternKey).
			Err(err).
			Msg("Failed to append trade event")
		return fmt.Errorf("failed to append trade event: %w", err)
	}
	r.logger.Debug().
		Str("trade_id", ev.TradeID).
		Str("pattern_key", ev.PatternKey).
		Str("action", string(ev.Category)).
		Float64("realized_rr", ev.RealizedRR).
		Msg("Trade event recorded")
	return nil
}

// RecordEpisode appends one PatternEpisodeEvent for a decision point. The
// outcome always starts pending; the resolver settles it later.
func (r *Recorder) RecordEpisode(ctx context.Context, ev PatternEpisodeEvent) error {
	if r.store == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Outcome = OutcomePending
	ev.ResolvedAt = nil
	if err := r.store.AppendEpisodeEvent(ctx, ev); err != nil {
		r.logger.Warn().
			Str("pattern_key", ev.PatternKey).
			Str("decision", string(ev.Decision)).
			Err(err).
			Msg("Failed to append episode event")
		return fmt.Errorf("failed to append episode event: %w", err)
	}
	return nil
}
