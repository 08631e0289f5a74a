package lessons

import (
	"context"
	"fmt"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// DefaultModule tags lessons mined from the trend gate events.
const DefaultModule = "trend"

// LessonStatus marks whether a lesson still backs live overrides.
type LessonStatus string

const (
	StatusActive  LessonStatus = "active"
	StatusRetired LessonStatus = "retired"
)

// LessonKey identifies one mined slice.
type LessonKey struct {
	Module      string                  `json:"module"`
	PatternKey  string                  `json:"pattern_key"`
	Category    patterns.ActionCategory `json:"action_category"`
	ScopeSubset string                  `json:"scope_subset"`
}

// String renders the canonical sort/storage key. The empty scope subset is
// the global slice.
func (k LessonKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Module, k.PatternKey, k.Category, k.ScopeSubset)
}

// EpisodeCounts partitions the slice's resolved decision points.
type EpisodeCounts struct {
	ActedSuccess   int `json:"acted_success"`
	ActedFailure   int `json:"acted_failure"`
	SkippedSuccess int `json:"skipped_success"`
	SkippedFailure int `json:"skipped_failure"`
	Pending        int `json:"pending"`
}

// LessonStats holds the mined rates and the shrunk, decayed edge estimate.
// Degenerate slices (zero denominators) report neutral zeros, never NaN.
type LessonStats struct {
	WinRate     float64 `json:"win_rate"`
	FPRate      float64 `json:"fp_rate"`
	MissRate    float64 `json:"miss_rate"`
	DodgeRate   float64 `json:"dodge_rate"`
	Pressure    float64 `json:"pressure"`
	AvgRR       float64 `json:"avg_rr"`
	DeltaRR     float64 `json:"delta_rr"`
	Reliability float64 `json:"reliability"`
	Decay       float64 `json:"decay"`
	EdgeRaw     float64 `json:"edge_raw"`
}

// Lesson is one persisted aggregate. N counts distinct trade IDs, never raw
// events. All fields derive from the window contents alone, so re-mining an
// unchanged window reproduces the row byte for byte.
type Lesson struct {
	Key         LessonKey     `json:"key"`
	N           int           `json:"n"`
	Counts      EpisodeCounts `json:"counts"`
	Stats       LessonStats   `json:"stats"`
	Status      LessonStatus  `json:"status"`
	Generation  int64         `json:"generation"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
}

// EventSource is the read slice of the event store the miner consumes.
type EventSource interface {
	TradeEventsBetween(ctx context.Context, from, to time.Time) ([]patterns.PatternTradeEvent, error)
	EpisodesBetween(ctx context.Context, from, to time.Time) ([]patterns.PatternEpisodeEvent, error)
}

// LessonStore persists mined lessons. Retirement is generation-based: rows
// the latest run did not re-mine stop backing overrides.
type LessonStore interface {
	UpsertLesson(ctx context.Context, lesson Lesson) error
	RetireLessonsNotInGeneration(ctx context.Context, module string, generation int64) (int64, error)
}
