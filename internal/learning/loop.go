// Package learning schedules the mining cycle: each pass mines lessons from
// the recorded pattern events and then materializes them into live overrides.
// The loop owns the cycle cadence and its observability; the mining and
// materialization logic lives in internal/lessons and internal/overrides.
package learning

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/events"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/metrics"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/overrides"
)

// CycleResult is the outcome of one complete learning cycle
type CycleResult struct {
	Mine        lessons.MineResult          `json:"mine"`
	Materialize overrides.MaterializeResult `json:"materialize"`
	StartedAt   time.Time                   `json:"started_at"`
	Duration    string                      `json:"duration"`
	Error       string                      `json:"error,omitempty"`
}

// Loop runs learning cycles on an interval and on demand
type Loop struct {
	miner        *lessons.Miner
	materializer *overrides.Materializer
	bus          *events.EventBus
	interval     time.Duration
	logger       zerolog.Logger

	runMu sync.Mutex // one cycle at a time

	mu     sync.RWMutex
	last   CycleResult
	cycles int64
}

// NewLoop creates a learning loop. The bus is optional; interval values of
// zero or below fall back to one hour.
func NewLoop(miner *lessons.Miner, materializer *overrides.Materializer, bus *events.EventBus, interval time.Duration, logger zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Loop{
		miner:        miner,
		materializer: materializer,
		bus:          bus,
		interval:     interval,
		logger:       logger.With().Str("component", "LearningLoop").Logger(),
	}
}

// Run executes one cycle immediately and then on every interval tick until
// the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info().Dur("interval", l.interval).Msg("Learning loop started")

	if _, err := l.RunCycle(ctx); err != nil {
		l.logger.Error().Err(err).Msg("Initial learning cycle failed")
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("Learning loop stopped")
			return
		case <-ticker.C:
			if _, err := l.RunCycle(ctx); err != nil {
				l.logger.Error().Err(err).Msg("Learning cycle failed")
			}
		}
	}
}

// RunCycle runs one mine-then-materialize pass. Cycles are serialized, so a
// manual trigger overlapping the scheduled tick simply waits its turn.
func (l *Loop) RunCycle(ctx context.Context) (CycleResult, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	result := CycleResult{StartedAt: time.Now().UTC()}

	mineStart := time.Now()
	mineRes, err := l.miner.Mine(ctx, time.Now().UTC())
	metrics.LearningDuration.WithLabelValues("mine").Observe(time.Since(mineStart).Seconds())
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(mineStart).String()
		l.store(result)
		if l.bus != nil {
			l.bus.PublishError("learning", "mining failed", err)
		}
		return result, err
	}
	result.Mine = mineRes
	metrics.LessonsMined.Set(float64(mineRes.LessonsWritten))

	matStart := time.Now()
	matRes, err := l.materializer.Materialize(ctx)
	metrics.LearningDuration.WithLabelValues("materialize").Observe(time.Since(matStart).Seconds())
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(mineStart).String()
		l.store(result)
		if l.bus != nil {
			l.bus.PublishError("learning", "materialization failed", err)
		}
		return result, err
	}
	result.Materialize = matRes
	metrics.OverridesMaterialized.Set(float64(matRes.Written + matRes.BridgeWritten))

	result.Duration = time.Since(mineStart).String()
	l.store(result)

	if l.bus != nil {
		l.bus.PublishLessonsMined(mineRes.Generation, mineRes.LessonsWritten, mineRes.Retired)
		l.bus.PublishOverridesMaterialized(matRes.Generation, matRes.Written, matRes.Touched, matRes.BridgeWritten, matRes.Retired)
	}

	l.logger.Info().
		Int64("generation", mineRes.Generation).
		Int("lessons_written", mineRes.LessonsWritten).
		Int("overrides_written", matRes.Written).
		Int("bridge_written", matRes.BridgeWritten).
		Str("duration", result.Duration).
		Msg("Learning cycle complete")

	return result, nil
}

// Status returns the most recent cycle result and whether any cycle has run.
func (l *Loop) Status() (CycleResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last, l.cycles > 0
}

// Cycles returns how many cycles have completed, failed ones included.
func (l *Loop) Cycles() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cycles
}

func (l *Loop) store(result CycleResult) {
	l.mu.Lock()
	l.last = result
	l.cycles++
	l.mu.Unlock()
}
