package events

import (
	"sync"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/metrics"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSnapshotEvaluated      EventType = "SNAPSHOT_EVALUATED"
	EventStateTransition        EventType = "STATE_TRANSITION"
	EventActionIntent           EventType = "ACTION_INTENT"
	EventPostureUpdate          EventType = "POSTURE_UPDATE"
	EventLessonsMined           EventType = "LESSONS_MINED"
	EventOverridesMaterialized  EventType = "OVERRIDES_MATERIALIZED"
	EventThresholdOverrideSet   EventType = "THRESHOLD_OVERRIDE_SET"
	EventThresholdOverrideClear EventType = "THRESHOLD_OVERRIDE_CLEARED"
	EventError                  EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// The bus is the snapshot sink the trend manager fans evaluations into.
var _ trend.SnapshotSink = (*EventBus)(nil)

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run on their own
// goroutines so a slow consumer cannot stall the bar path.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// ============================================================================
// SNAPSHOT FAN-OUT
// ============================================================================

// PublishSnapshot fans one completed evaluation out as events: every
// snapshot, plus a transition event when the state changed and an intent
// event per emitted action. Gate and transition metrics are counted here so
// the engine stays free of instrumentation.
func (eb *EventBus) PublishSnapshot(snap trend.EngineSnapshot) {
	for _, d := range snap.Decisions {
		decision := "skipped"
		if d.Passed {
			decision = "acted"
		}
		metrics.GateDecisions.WithLabelValues(d.PatternKey, decision).Inc()
	}

	eb.Publish(Event{
		Type: EventSnapshotEvaluated,
		Data: map[string]interface{}{
			"position": snap.Key.String(),
			"state":    string(snap.State),
			"stale":    snap.Stale,
			"snapshot": snap,
		},
	})

	if snap.State != snap.PrevState && !snap.Stale {
		metrics.StateTransitions.WithLabelValues(string(snap.PrevState), string(snap.State)).Inc()
		eb.Publish(Event{
			Type: EventStateTransition,
			Data: map[string]interface{}{
				"position":   snap.Key.String(),
				"from":       string(snap.PrevState),
				"to":         string(snap.State),
				"price":      snap.Price,
				"bar_time":   snap.BarTime,
				"timeframe":  snap.Key.Timeframe,
				"transition": string(snap.PrevState) + "->" + string(snap.State),
			},
		})
	}

	for _, intent := range snap.Intents {
		eb.Publish(Event{
			Type: EventActionIntent,
			Data: map[string]interface{}{
				"position":    intent.Position.String(),
				"pattern_key": intent.PatternKey,
				"action":      string(intent.Category),
				"price":       intent.Price,
				"strength":    intent.Strength,
				"intent":      intent,
			},
		})
	}
}

// ============================================================================
// TYPED PUBLISHERS
// ============================================================================

// PublishPostureUpdate publishes a recomputed posture pair
func (eb *EventBus) PublishPostureUpdate(aggression, exposure, strength float64) {
	eb.Publish(Event{
		Type: EventPostureUpdate,
		Data: map[string]interface{}{
			"aggression": aggression,
			"exposure":   exposure,
			"strength":   strength,
		},
	})
}

// PublishLessonsMined publishes the summary of one mining run
func (eb *EventBus) PublishLessonsMined(generation int64, written int, retired int64) {
	eb.Publish(Event{
		Type: EventLessonsMined,
		Data: map[string]interface{}{
			"generation": generation,
			"written":    written,
			"retired":    retired,
		},
	})
}

// PublishOverridesMaterialized publishes the summary of one materialization
func (eb *EventBus) PublishOverridesMaterialized(generation int64, written, touched, bridge int, retired int64) {
	eb.Publish(Event{
		Type: EventOverridesMaterialized,
		Data: map[string]interface{}{
			"generation":     generation,
			"written":        written,
			"touched":        touched,
			"bridge_written": bridge,
			"retired":        retired,
		},
	})
}

// PublishThresholdOverrideSet publishes an operator runtime override
func (eb *EventBus) PublishThresholdOverrideSet(name, timeframe, phase string, level int, value float64) {
	eb.Publish(Event{
		Type: EventThresholdOverrideSet,
		Data: map[string]interface{}{
			"name":      name,
			"timeframe": timeframe,
			"phase":     phase,
			"level":     level,
			"value":     value,
		},
	})
}

// PublishThresholdOverrideCleared publishes a runtime override removal
func (eb *EventBus) PublishThresholdOverrideCleared(name, timeframe, phase string, level int) {
	eb.Publish(Event{
		Type: EventThresholdOverrideClear,
		Data: map[string]interface{}{
			"name":      name,
			"timeframe": timeframe,
			"phase":     phase,
			"level":     level,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
