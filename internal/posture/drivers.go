// Package posture turns macro regime flags and learned strength overrides
// into the aggression/exposure pair that sizes every action the trend
// engine takes. Flag deltas and strength modulation are applied in two
// separate passes so a macro shock and a learning artifact can never mask
// each other.
package posture

import (
	"time"
)

// ============ Baseline ============

const (
	// BaselineAggression is the neutral aggression level before any driver fires.
	BaselineAggression = 0.5
	// BaselineExposure is the neutral exposure level before any driver fires.
	BaselineExposure = 0.5
)

// ============ Regime Flags ============

// DriverFlags carries the active signals of a single macro driver.
// Buy and trim move posture along the driver's polarity; emergency
// always moves it toward risk-off no matter the polarity.
type DriverFlags struct {
	Buy       bool `json:"buy"`
	Trim      bool `json:"trim"`
	Emergency bool `json:"emergency"`
}

// Active reports whether any signal on the driver is set.
func (f DriverFlags) Active() bool {
	return f.Buy || f.Trim || f.Emergency
}

// RegimeFlags maps driver name to its current signals. Drivers absent
// from the map are treated as quiet.
type RegimeFlags map[string]DriverFlags

// Clone returns an independent copy of the flag set.
func (r RegimeFlags) Clone() RegimeFlags {
	out := make(RegimeFlags, len(r))
	for name, flags := range r {
		out[name] = flags
	}
	return out
}

// ============ Posture State ============

// DriverContribution records what one driver added to the posture pair,
// kept alongside the result so API consumers can see why posture moved.
type DriverContribution struct {
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Inverse   bool    `json:"inverse"`
	Buy       bool    `json:"buy"`
	Trim      bool    `json:"trim"`
	Emergency bool    `json:"emergency"`
	DeltaA    float64 `json:"delta_a"`
	DeltaE    float64 `json:"delta_e"`
}

// AEState is the computed posture pair. Aggression and Exposure both live
// in [0,1]; Strength is the learned multiplier that produced StrengthEffect
// in the second pass.
type AEState struct {
	Aggression     float64              `json:"aggression"`
	Exposure       float64              `json:"exposure"`
	Strength       float64              `json:"strength"`
	StrengthEffect float64              `json:"strength_effect"`
	Contributions  []DriverContribution `json:"contributions,omitempty"`
	ComputedAt     time.Time            `json:"computed_at"`
}
