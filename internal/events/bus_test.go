package events

import (
	"errors"
	"testing"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
)

func collect(bus *EventBus, eventType EventType) <-chan Event {
	ch := make(chan Event, 16)
	bus.Subscribe(eventType, func(ev Event) {
		ch <- ev
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Errorf("Expected no event, got %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func evaluatedSnapshot(from, to trend.TrendState) trend.EngineSnapshot {
	return trend.EngineSnapshot{
		Key:         trend.PositionKey{Token: "sol", Chain: "solana", Timeframe: "1h"},
		State:       to,
		PrevState:   from,
		BarsInState: 1,
		BarTime:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Price:       142.5,
		EvaluatedAt: time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC),
	}
}

func TestPublishDeliversToTypeSubscribers(t *testing.T) {
	bus := NewEventBus()
	postureCh := collect(bus, EventPostureUpdate)
	errorCh := collect(bus, EventError)

	bus.PublishPostureUpdate(0.65, 0.35, 1.1)

	ev := waitEvent(t, postureCh)
	if ev.Type != EventPostureUpdate {
		t.Errorf("Expected type %s, got %s", EventPostureUpdate, ev.Type)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Expected publish to stamp a timestamp")
	}
	if got := ev.Data["aggression"].(float64); got != 0.65 {
		t.Errorf("Expected aggression 0.65, got %v", got)
	}
	assertNoEvent(t, errorCh)
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 16)
	bus.SubscribeAll(func(ev Event) {
		ch <- ev
	})

	bus.PublishPostureUpdate(0.5, 0.5, 1.0)
	bus.PublishError("miner", "window scan failed", errors.New("connection reset"))

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		ev := waitEvent(t, ch)
		seen[ev.Type] = true
	}
	if !seen[EventPostureUpdate] || !seen[EventError] {
		t.Errorf("Expected both event types, got %v", seen)
	}
}

func TestPublishSnapshotEmitsTransitionOnStateChange(t *testing.T) {
	bus := NewEventBus()
	snapCh := collect(bus, EventSnapshotEvaluated)
	transCh := collect(bus, EventStateTransition)

	bus.PublishSnapshot(evaluatedSnapshot(trend.StateS0, trend.StateS1))

	snap := waitEvent(t, snapCh)
	if snap.Data["position"] != "sol:solana:1h" {
		t.Errorf("Expected position sol:solana:1h, got %v", snap.Data["position"])
	}

	trans := waitEvent(t, transCh)
	if trans.Data["from"] != string(trend.StateS0) || trans.Data["to"] != string(trend.StateS1) {
		t.Errorf("Expected S0->S1 transition, got %v -> %v", trans.Data["from"], trans.Data["to"])
	}
}

func TestPublishSnapshotSkipsTransitionWhenStateUnchanged(t *testing.T) {
	bus := NewEventBus()
	snapCh := collect(bus, EventSnapshotEvaluated)
	transCh := collect(bus, EventStateTransition)

	bus.PublishSnapshot(evaluatedSnapshot(trend.StateS2, trend.StateS2))

	waitEvent(t, snapCh)
	assertNoEvent(t, transCh)
}

func TestPublishSnapshotSkipsTransitionWhenStale(t *testing.T) {
	bus := NewEventBus()
	transCh := collect(bus, EventStateTransition)

	snap := evaluatedSnapshot(trend.StateS1, trend.StateS0)
	snap.Stale = true
	snap.StaleReason = "gap"
	bus.PublishSnapshot(snap)

	assertNoEvent(t, transCh)
}

func TestPublishSnapshotEmitsIntentEvents(t *testing.T) {
	bus := NewEventBus()
	intentCh := collect(bus, EventActionIntent)

	snap := evaluatedSnapshot(trend.StateS0, trend.StateS1)
	snap.Intents = []trend.ActionIntent{
		{
			Position:   snap.Key,
			PatternKey: patterns.PatternS1CrossEntry,
			Category:   patterns.ActionEntry,
			Price:      142.5,
			Strength:   1.2,
			Timestamp:  snap.BarTime,
		},
	}
	bus.PublishSnapshot(snap)

	ev := waitEvent(t, intentCh)
	if ev.Data["pattern_key"] != patterns.PatternS1CrossEntry {
		t.Errorf("Expected pattern %s, got %v", patterns.PatternS1CrossEntry, ev.Data["pattern_key"])
	}
	if ev.Data["action"] != string(patterns.ActionEntry) {
		t.Errorf("Expected action %s, got %v", patterns.ActionEntry, ev.Data["action"])
	}
	if got := ev.Data["strength"].(float64); got != 1.2 {
		t.Errorf("Expected strength 1.2, got %v", got)
	}
}
