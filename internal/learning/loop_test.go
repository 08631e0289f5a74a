package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/events"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/overrides"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

type stubEventSource struct {
	trades   []patterns.PatternTradeEvent
	episodes []patterns.PatternEpisodeEvent
	err      error
}

func (s *stubEventSource) TradeEventsBetween(ctx context.Context, from, to time.Time) ([]patterns.PatternTradeEvent, error) {
	return s.trades, s.err
}

func (s *stubEventSource) EpisodesBetween(ctx context.Context, from, to time.Time) ([]patterns.PatternEpisodeEvent, error) {
	return s.episodes, s.err
}

type stubLessonStore struct {
	upserts []lessons.Lesson
}

func (s *stubLessonStore) UpsertLesson(ctx context.Context, lesson lessons.Lesson) error {
	s.upserts = append(s.upserts, lesson)
	return nil
}

func (s *stubLessonStore) RetireLessonsNotInGeneration(ctx context.Context, module string, generation int64) (int64, error) {
	return 0, nil
}

type stubLessonSource struct {
	generation int64
	lessons    []lessons.Lesson
}

func (s *stubLessonSource) LatestLessonGeneration(ctx context.Context, module string) (int64, error) {
	return s.generation, nil
}

func (s *stubLessonSource) ActiveLessons(ctx context.Context, module string, generation int64) ([]lessons.Lesson, error) {
	return s.lessons, nil
}

type stubOverrideStore struct {
	upserts       []overrides.Override
	bridgeUpserts []overrides.ThresholdOverride
}

func (s *stubOverrideStore) ActiveOverrides(ctx context.Context) ([]overrides.Override, error) {
	return nil, nil
}

func (s *stubOverrideStore) UpsertOverride(ctx context.Context, ov overrides.Override) error {
	s.upserts = append(s.upserts, ov)
	return nil
}

func (s *stubOverrideStore) UpsertThresholdOverride(ctx context.Context, row overrides.ThresholdOverride) error {
	s.bridgeUpserts = append(s.bridgeUpserts, row)
	return nil
}

func (s *stubOverrideStore) RetireOverridesNotInGeneration(ctx context.Context, generation int64) (int64, error) {
	return 0, nil
}

func (s *stubOverrideStore) RetireThresholdOverridesNotInGeneration(ctx context.Context, generation int64) (int64, error) {
	return 0, nil
}

func testMiningConfig() config.MiningConfig {
	return config.MiningConfig{
		Interval:         time.Hour,
		Lookback:         720 * time.Hour,
		MinSampleTrades:  1,
		LearningRate:     0.005,
		ActivationFloor:  0.05,
		NoopGuard:        0.01,
		ReliabilityPrior: 20,
		VariancePrior:    0.25,
		VariancePriorObs: 5,
		DecayHalfLife:    336 * time.Hour,
		DriftClampMin:    0.5,
		DriftClampMax:    2.0,
		StrengthClampMin: 0.3,
		StrengthClampMax: 3.0,
	}
}

func edgyLesson(generation int64) lessons.Lesson {
	return lessons.Lesson{
		Key: lessons.LessonKey{
			Module:     lessons.DefaultModule,
			PatternKey: patterns.PatternS1CrossEntry,
			Category:   patterns.ActionEntry,
		},
		N: 40,
		Stats: lessons.LessonStats{
			Pressure:    10,
			EdgeRaw:     0.2,
			Reliability: 0.8,
			Decay:       0.9,
		},
		Status:     lessons.StatusActive,
		Generation: generation,
	}
}

func newTestLoop(eventSource *stubEventSource, lessonSource *stubLessonSource, bus *events.EventBus) (*Loop, *stubLessonStore, *stubOverrideStore) {
	cfg := testMiningConfig()
	lessonStore := &stubLessonStore{}
	overrideStore := &stubOverrideStore{}
	miner := lessons.NewMiner(eventSource, lessonStore, cfg, zerolog.Nop())
	materializer := overrides.NewMaterializer(lessonSource, overrideStore, cfg, zerolog.Nop())
	return NewLoop(miner, materializer, bus, time.Hour, zerolog.Nop()), lessonStore, overrideStore
}

func TestRunCycleRecordsResult(t *testing.T) {
	now := time.Now().UTC()
	eventSource := &stubEventSource{
		trades: []patterns.PatternTradeEvent{
			{
				ID:         "ev-1",
				TradeID:    "trade-1",
				PatternKey: patterns.PatternS1CrossEntry,
				Category:   patterns.ActionEntry,
				RealizedRR: 1.5,
				Timestamp:  now.Add(-time.Hour),
			},
		},
		episodes: []patterns.PatternEpisodeEvent{
			{
				ID:         "ep-1",
				PatternKey: patterns.PatternS1CrossEntry,
				Category:   patterns.ActionEntry,
				Decision:   patterns.DecisionActed,
				Outcome:    patterns.OutcomeSuccess,
				Timestamp:  now.Add(-time.Hour),
			},
		},
	}
	lessonSource := &stubLessonSource{generation: 7, lessons: []lessons.Lesson{edgyLesson(7)}}

	loop, lessonStore, overrideStore := newTestLoop(eventSource, lessonSource, nil)

	result, err := loop.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if result.Mine.LessonsWritten < 1 {
		t.Errorf("Expected at least one lesson written, got %d", result.Mine.LessonsWritten)
	}
	if len(lessonStore.upserts) != result.Mine.LessonsWritten {
		t.Errorf("Store saw %d upserts, result says %d", len(lessonStore.upserts), result.Mine.LessonsWritten)
	}
	if result.Materialize.Generation != 7 {
		t.Errorf("Expected materialize generation 7, got %d", result.Materialize.Generation)
	}
	// Pressure 10 clears the no-op guard for both drift kinds and edge 0.2
	// clears the activation floor, so three override rows materialize.
	if result.Materialize.Written != 3 {
		t.Errorf("Expected 3 overrides written, got %d", result.Materialize.Written)
	}
	if result.Materialize.BridgeWritten != len(overrideStore.bridgeUpserts) || result.Materialize.BridgeWritten == 0 {
		t.Errorf("Expected bridge rows, got %d in result, %d in store",
			result.Materialize.BridgeWritten, len(overrideStore.bridgeUpserts))
	}
	if result.Duration == "" || result.Error != "" {
		t.Errorf("Unexpected result bookkeeping: duration %q, error %q", result.Duration, result.Error)
	}

	status, ok := loop.Status()
	if !ok {
		t.Fatal("Expected status after a cycle")
	}
	if status.Mine.Generation != result.Mine.Generation {
		t.Errorf("Status generation %d does not match result %d", status.Mine.Generation, result.Mine.Generation)
	}
	if loop.Cycles() != 1 {
		t.Errorf("Expected 1 cycle, got %d", loop.Cycles())
	}
}

func TestRunCycleMineErrorRecorded(t *testing.T) {
	eventSource := &stubEventSource{err: errors.New("connection refused")}
	loop, _, _ := newTestLoop(eventSource, &stubLessonSource{}, nil)

	if _, err := loop.RunCycle(context.Background()); err == nil {
		t.Fatal("Expected RunCycle to fail")
	}

	status, ok := loop.Status()
	if !ok {
		t.Fatal("Expected failed cycle to be recorded")
	}
	if status.Error == "" {
		t.Error("Expected status to carry the cycle error")
	}
	if loop.Cycles() != 1 {
		t.Errorf("Expected failed cycle to count, got %d", loop.Cycles())
	}
}

func TestRunCyclePublishesSummaries(t *testing.T) {
	bus := events.NewEventBus()
	minedCh := make(chan events.Event, 1)
	matCh := make(chan events.Event, 1)
	bus.Subscribe(events.EventLessonsMined, func(ev events.Event) { minedCh <- ev })
	bus.Subscribe(events.EventOverridesMaterialized, func(ev events.Event) { matCh <- ev })

	lessonSource := &stubLessonSource{generation: 3, lessons: []lessons.Lesson{edgyLesson(3)}}
	loop, _, _ := newTestLoop(&stubEventSource{}, lessonSource, bus)

	if _, err := loop.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	select {
	case ev := <-minedCh:
		if ev.Data["generation"] == nil {
			t.Error("Expected generation in lessons mined event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for lessons mined event")
	}

	select {
	case ev := <-matCh:
		if got := ev.Data["written"].(int); got != 3 {
			t.Errorf("Expected 3 written in materialized event, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for overrides materialized event")
	}
}
