package patterns

import (
	"sort"
	"strings"
	"time"
)

// ActionCategory classifies a gated trading action.
type ActionCategory string

const (
	ActionEntry ActionCategory = "entry"
	ActionAdd   ActionCategory = "add"
	ActionTrim  ActionCategory = "trim"
	ActionExit  ActionCategory = "exit"
)

// BuySide reports whether the action profits from the price going up. Trim
// and exit bets pay off when the price falls after the decision.
func (c ActionCategory) BuySide() bool {
	return c == ActionEntry || c == ActionAdd
}

// Decision records whether a gate evaluation fired an action.
type Decision string

const (
	DecisionActed   Decision = "acted"
	DecisionSkipped Decision = "skipped"
)

// Outcome is the resolved result of a decision point.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Scope maps a context dimension to the bucket the event fell into, e.g.
// {"liquidity": "high", "volatility": "low", "session": "eu"}.
type Scope map[string]string

// Canonical renders the scope as a stable sorted "dim=bucket|dim=bucket"
// string. The empty scope canonicalizes to "". Lesson and override identities
// use this form.
func (s Scope) Canonical() string {
	if len(s) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, "|")
}

// Subsets returns every sub-scope of s, from the empty (global) scope up to
// the full scope, in a deterministic order. With the three standard
// dimensions this yields eight slices per event group.
func (s Scope) Subsets() []Scope {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := len(keys)
	out := make([]Scope, 0, 1<<uint(n))
	for mask := 0; mask < 1<<uint(n); mask++ {
		sub := Scope{}
		for i, k := range keys {
			if mask&(1<<uint(i)) != 0 {
				sub[k] = s[k]
			}
		}
		out = append(out, sub)
	}
	return out
}

// Matches reports whether the event scope agrees with sub on every dimension
// sub names.
func (s Scope) Matches(sub Scope) bool {
	for k, v := range sub {
		if s[k] != v {
			return false
		}
	}
	return true
}

// ParseScope parses the canonical "dim=bucket|dim=bucket" form.
func ParseScope(canonical string) Scope {
	out := Scope{}
	if canonical == "" {
		return out
	}
	for _, part := range strings.Split(canonical, "|") {
		if k, v, ok := strings.Cut(part, "="); ok {
			out[k] = v
		}
	}
	return out
}

// PatternTradeEvent is one executed action of a logical trade. Immutable and
// append-only; a single trade emits one event per action (entry plus any
// adds, trims and the exit).
type PatternTradeEvent struct {
	ID         string         `json:"id"`
	TradeID    string         `json:"trade_id"`
	Position   string         `json:"position"`
	PatternKey string         `json:"pattern_key"`
	Category   ActionCategory `json:"action_category"`
	Scope      Scope          `json:"scope"`
	RealizedRR float64        `json:"realized_rr"`
	PnL        float64        `json:"pnl"`
	Timestamp  time.Time      `json:"timestamp"`
}

// PatternEpisodeEvent is one decision point, recorded whether or not the gate
// fired. Outcome starts pending and is resolved asynchronously once the
// subsequent price action is known.
type PatternEpisodeEvent struct {
	ID         string             `json:"id"`
	Position   string             `json:"position"`
	PatternKey string             `json:"pattern_key"`
	Category   ActionCategory     `json:"action_category"`
	Scope      Scope              `json:"scope"`
	Decision   Decision           `json:"decision"`
	Outcome    Outcome            `json:"outcome"`
	Factors    map[string]float64 `json:"factors"`
	RefPrice   float64            `json:"ref_price"`
	Timestamp  time.Time          `json:"timestamp"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}
