package trend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// StateRepository persists engine snapshots across restarts.
type StateRepository interface {
	SaveSnapshot(ctx context.Context, snap EngineSnapshot) error
	LoadSnapshot(ctx context.Context, key PositionKey) (EngineSnapshot, bool, error)
}

// SnapshotSink receives every completed evaluation, e.g. the event bus.
type SnapshotSink interface {
	PublishSnapshot(snap EngineSnapshot)
}

// Manager owns one engine per position, creating them on demand as bars
// arrive. It records an episode event for every armed gate, persists
// snapshots best-effort and fans completed evaluations out to the sink.
type Manager struct {
	cfg        config.EngineConfig
	thresholds ThresholdSource
	recorder   *patterns.Recorder
	states     StateRepository
	sink       SnapshotSink
	logger     zerolog.Logger

	enginesMu sync.RWMutex
	engines   map[string]*Engine
}

// NewManager creates a manager. Recorder, state repository and sink may each
// be nil, which disables the corresponding side effect.
func NewManager(cfg config.EngineConfig, thresholds ThresholdSource, recorder *patterns.Recorder, states StateRepository, sink SnapshotSink, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		thresholds: thresholds,
		recorder:   recorder,
		states:     states,
		sink:       sink,
		logger:     logger.With().Str("component", "TrendManager").Logger(),
		engines:    make(map[string]*Engine),
	}
}

// HandleBar routes one closed bar to its position's engine and runs the
// post-evaluation side effects. It never returns an error to the feed: bad
// bars surface as stale snapshots.
func (m *Manager) HandleBar(ctx context.Context, bar Bar) EngineSnapshot {
	eng := m.engine(ctx, bar.Key())
	snap := eng.Evaluate(bar)

	if !snap.Stale {
		m.recordEpisodes(ctx, snap)
		m.persist(ctx, snap)
	}
	if m.sink != nil {
		m.sink.PublishSnapshot(snap)
	}
	return snap
}

// engine returns the engine for key, creating and restoring it on first use.
func (m *Manager) engine(ctx context.Context, key PositionKey) *Engine {
	ks := key.String()

	m.enginesMu.RLock()
	eng, ok := m.engines[ks]
	m.enginesMu.RUnlock()
	if ok {
		return eng
	}

	m.enginesMu.Lock()
	defer m.enginesMu.Unlock()
	if eng, ok = m.engines[ks]; ok {
		return eng
	}

	eng = NewEngine(key, m.cfg, m.thresholds, m.logger)
	if m.states != nil && m.cfg.PersistStateRedis {
		snap, found, err := m.states.LoadSnapshot(ctx, key)
		if err != nil {
			m.logger.Warn().Err(err).Str("position", ks).Msg("Failed to load persisted engine state")
		} else if found {
			eng.Restore(snap)
			m.logger.Info().
				Str("position", ks).
				Str("state", string(snap.State)).
				Time("bar_time", snap.BarTime).
				Msg("Restored engine state")
		}
	}
	m.engines[ks] = eng
	return eng
}

// recordEpisodes writes one episode event per armed gate of the evaluation.
func (m *Manager) recordEpisodes(ctx context.Context, snap EngineSnapshot) {
	if m.recorder == nil || len(snap.Decisions) == 0 {
		return
	}
	for _, d := range snap.Decisions {
		decision := patterns.DecisionSkipped
		if d.Passed {
			decision = patterns.DecisionActed
		}
		ep := patterns.PatternEpisodeEvent{
			Position:   snap.Key.String(),
			PatternKey: d.PatternKey,
			Category:   d.Category,
			Scope:      snap.Scope,
			Decision:   decision,
			Factors:    d.Factors(),
			RefPrice:   d.RefPrice,
			Timestamp:  snap.BarTime,
		}
		if err := m.recorder.RecordEpisode(ctx, ep); err != nil {
			m.logger.Warn().Err(err).
				Str("position", ep.Position).
				Str("pattern_key", ep.PatternKey).
				Msg("Failed to record episode event")
		}
	}
}

// persist saves the snapshot best-effort.
func (m *Manager) persist(ctx context.Context, snap EngineSnapshot) {
	if m.states == nil || !m.cfg.PersistStateRedis {
		return
	}
	if err := m.states.SaveSnapshot(ctx, snap); err != nil {
		m.logger.Warn().Err(err).
			Str("position", snap.Key.String()).
			Msg("Failed to persist engine state")
	}
}

// ReportTrade records an executed action reported by the external execution
// module. A report without scope tags inherits the position's current scope.
func (m *Manager) ReportTrade(ctx context.Context, ev patterns.PatternTradeEvent) error {
	if m.recorder == nil {
		return nil
	}
	if len(ev.Scope) == 0 {
		if eng, ok := m.lookup(ev.Position); ok {
			ev.Scope = eng.Snapshot().Scope
		}
	}
	return m.recorder.RecordAction(ctx, ev)
}

// ClosesSince returns the retained closes after t for a position, oldest
// first. Implements the price path the episode resolver walks.
func (m *Manager) ClosesSince(position string, t time.Time) []float64 {
	eng, ok := m.lookup(position)
	if !ok {
		return nil
	}
	return eng.ClosesSince(t)
}

// Snapshot returns the latest snapshot for one position.
func (m *Manager) Snapshot(position string) (EngineSnapshot, bool) {
	eng, ok := m.lookup(position)
	if !ok {
		return EngineSnapshot{}, false
	}
	return eng.Snapshot(), true
}

// Snapshots returns the latest snapshot of every tracked position, ordered by
// position key.
func (m *Manager) Snapshots() []EngineSnapshot {
	m.enginesMu.RLock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.enginesMu.RUnlock()

	out := make([]EngineSnapshot, 0, len(engines))
	for _, eng := range engines {
		out = append(out, eng.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// PositionCount returns the number of tracked positions.
func (m *Manager) PositionCount() int {
	m.enginesMu.RLock()
	defer m.enginesMu.RUnlock()
	return len(m.engines)
}

func (m *Manager) lookup(position string) (*Engine, bool) {
	m.enginesMu.RLock()
	defer m.enginesMu.RUnlock()
	eng, ok := m.engines[position]
	return eng, ok
}
