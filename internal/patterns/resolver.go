package patterns

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PricePath exposes the subsequent closes the resolver needs to settle a
// decision point. Implemented by the trend manager over its per-position bar
// windows.
type PricePath interface {
	// ClosesSince returns the closes recorded for the position after t,
	// oldest first. An empty slice means not enough bars have arrived yet.
	ClosesSince(position string, t time.Time) []float64
}

// ResolverConfig controls how decision points are settled.
type ResolverConfig struct {
	HorizonBars int           // bars to wait before judging the bet
	MovePct     float64       // favorable fractional move that counts as success
	Interval    time.Duration // how often pending episodes are swept
}

// EpisodeResolver settles pending episode outcomes once enough subsequent
// price action exists: success if the bet direction moved favorably by at
// least MovePct over the horizon, failure otherwise. Skipped decisions are
// judged by the same rule, as if the action had been taken.
type EpisodeResolver struct {
	store  EventStore
	prices PricePath
	cfg    ResolverConfig
	logger zerolog.Logger
}

// NewEpisodeResolver creates a resolver over the given store and price source.
func NewEpisodeResolver(store EventStore, prices PricePath, cfg ResolverConfig, logger zerolog.Logger) *EpisodeResolver {
	if cfg.HorizonBars <= 0 {
		cfg.HorizonBars = 8
	}
	if cfg.MovePct <= 0 {
		cfg.MovePct = 0.01
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &EpisodeResolver{
		store:  store,
		prices: prices,
		cfg:    cfg,
		logger: logger.With().Str("component", "EpisodeResolver").Logger(),
	}
}

// Run sweeps pending episodes on the configured interval until the context is
// cancelled. Store failures are logged and retried on the next sweep, never
// escalated.
func (r *EpisodeResolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep resolves every pending episode that has accumulated enough bars.
// It returns the number of episodes settled.
func (r *EpisodeResolver) Sweep(ctx context.Context) int {
	if r.store == nil {
		return 0
	}
	pending, err := r.store.PendingEpisodes(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to list pending episodes, will retry next sweep")
		return 0
	}

	resolved := 0
	for _, ep := range pending {
		outcome, ok := r.judge(ep)
		if !ok {
			continue // not enough subsequent bars yet
		}
		if err := r.store.ResolveEpisode(ctx, ep.ID, outcome, time.Now().UTC()); err != nil {
			r.logger.Warn().
				Str("episode_id", ep.ID).
				Err(err).
				Msg("Failed to resolve episode, will retry next sweep")
			continue
		}
		resolved++
	}
	if resolved > 0 {
		r.logger.Info().Int("resolved", resolved).Int("pending", len(pending)).Msg("Episode sweep complete")
	}
	return resolved
}

// judge applies the resolution rule to one episode. The second return value
// is false while the horizon has not filled.
func (r *EpisodeResolver) judge(ep PatternEpisodeEvent) (Outcome, bool) {
	if ep.RefPrice <= 0 {
		// Unusable reference price; settle as failure rather than leaking a
		// pending row forever.
		return OutcomeFailure, true
	}
	closes := r.prices.ClosesSince(ep.Position, ep.Timestamp)
	if len(closes) < r.cfg.HorizonBars {
		return OutcomePending, false
	}
	final := closes[r.cfg.HorizonBars-1]
	move := (final - ep.RefPrice) / ep.RefPrice
	if !ep.Category.BuySide() {
		move = -move
	}
	if move >= r.cfg.MovePct {
		return OutcomeSuccess, true
	}
	return OutcomeFailure, true
}
