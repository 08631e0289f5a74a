package overrides

import (
	"context"
	"fmt"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// OverrideKind distinguishes what the multiplier applies to.
type OverrideKind string

const (
	// KindThresholdDrift multiplies floor-style gate thresholds. Positive
	// pressure (missed successes) pushes the multiplier below 1 to admit more.
	KindThresholdDrift OverrideKind = "threshold_drift"
	// KindHaloDrift multiplies width-style gate thresholds. Positive pressure
	// pushes the multiplier above 1 to admit more.
	KindHaloDrift OverrideKind = "halo_drift"
	// KindStrength scales sizing/posture confidence from the mined edge.
	KindStrength OverrideKind = "strength"
)

// Override statuses.
const (
	StatusActive  = "active"
	StatusRetired = "retired"
)

// OverrideKey identifies one override row.
type OverrideKey struct {
	PatternKey  string                  `json:"pattern_key"`
	Category    patterns.ActionCategory `json:"action_category"`
	ScopeSubset string                  `json:"scope_subset"`
	Kind        OverrideKind            `json:"kind"`
}

func (k OverrideKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.PatternKey, k.Category, k.ScopeSubset, k.Kind)
}

// Override is a signed multiplicative adjustment materialized from a lesson.
type Override struct {
	Key        OverrideKey `json:"key"`
	Multiplier float64     `json:"multiplier"`
	Confidence float64     `json:"confidence_score"`
	LessonN    int         `json:"lesson_n"`
	Generation int64       `json:"generation"`
	Status     string      `json:"status"`
}

// ThresholdOverride is the bridge row the threshold cache's persisted layer
// reads: a drift override projected onto a concrete threshold key. Timeframe
// is empty when the adjustment applies across timeframes.
type ThresholdOverride struct {
	Name       string       `json:"name"`
	Timeframe  string       `json:"timeframe"`
	Phase      string       `json:"phase"`
	Level      int          `json:"level"`
	Multiplier float64      `json:"multiplier"`
	PatternKey string       `json:"pattern_key"`
	Kind       OverrideKind `json:"kind"`
	Generation int64        `json:"generation"`
	Status     string       `json:"status"`
}

// LessonSource is the slice of the lesson store the materializer reads.
type LessonSource interface {
	LatestLessonGeneration(ctx context.Context, module string) (int64, error)
	ActiveLessons(ctx context.Context, module string, generation int64) ([]lessons.Lesson, error)
}

// OverrideStore persists override and bridge rows. Retirement is
// generation-based, mirroring the lesson store.
type OverrideStore interface {
	ActiveOverrides(ctx context.Context) ([]Override, error)
	UpsertOverride(ctx context.Context, ov Override) error
	UpsertThresholdOverride(ctx context.Context, row ThresholdOverride) error
	RetireOverridesNotInGeneration(ctx context.Context, generation int64) (int64, error)
	RetireThresholdOverridesNotInGeneration(ctx context.Context, generation int64) (int64, error)
}
