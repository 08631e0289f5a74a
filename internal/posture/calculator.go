package posture

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/overrides"
)

// ============ Strength Source ============

// StrengthSource yields the currently active learned overrides. Only rows
// of kind strength participate in posture; the calculator filters the rest.
type StrengthSource interface {
	ActiveOverrides(ctx context.Context) ([]overrides.Override, error)
}

// ============ Calculator ============

// Calculator folds regime flags and the learned strength factor into an
// AEState. Flag updates arrive through SetFlags; the strength factor is
// refreshed lazily from the override store and held through source outages,
// so Compute never blocks on storage and never fails.
type Calculator struct {
	cfg    config.PostureConfig
	source StrengthSource
	logger zerolog.Logger

	mu         sync.RWMutex
	flags      RegimeFlags
	strength   float64
	strengthAt time.Time
}

// NewCalculator builds a Calculator. A nil source pins the strength factor
// at neutral 1.0.
func NewCalculator(source StrengthSource, cfg config.PostureConfig, logger zerolog.Logger) *Calculator {
	if len(cfg.Drivers) == 0 {
		cfg.Drivers = config.DefaultDrivers()
	}
	if cfg.StrengthRefresh <= 0 {
		cfg.StrengthRefresh = 5 * time.Minute
	}
	return &Calculator{
		cfg:      cfg,
		source:   source,
		logger:   logger.With().Str("component", "PostureCalculator").Logger(),
		flags:    RegimeFlags{},
		strength: 1.0,
	}
}

// DriverNames lists the configured driver names in configuration order.
func (c *Calculator) DriverNames() []string {
	names := make([]string, 0, len(c.cfg.Drivers))
	for _, driver := range c.cfg.Drivers {
		names = append(names, driver.Name)
	}
	return names
}

// SetFlags replaces the current regime flag snapshot.
func (c *Calculator) SetFlags(flags RegimeFlags) {
	c.mu.Lock()
	c.flags = flags.Clone()
	c.mu.Unlock()
	c.logger.Info().Int("drivers_flagged", len(flags)).Msg("Regime flags updated")
}

// Flags returns a copy of the current regime flag snapshot.
func (c *Calculator) Flags() RegimeFlags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flags.Clone()
}

// Compute derives the posture pair from the held flags and the learned
// strength factor.
func (c *Calculator) Compute(ctx context.Context) AEState {
	strength := c.currentStrength(ctx)
	c.mu.RLock()
	flags := c.flags
	c.mu.RUnlock()
	return computePosture(c.cfg, flags, strength)
}

// currentStrength serves the cached strength factor, refreshing it from the
// source once per StrengthRefresh window. A refresh failure holds the last
// known value for a full window before retrying.
func (c *Calculator) currentStrength(ctx context.Context) float64 {
	if c.source == nil {
		return 1.0
	}

	c.mu.RLock()
	fresh := !c.strengthAt.IsZero() && time.Since(c.strengthAt) < c.cfg.StrengthRefresh
	last := c.strength
	c.mu.RUnlock()
	if fresh {
		return last
	}

	rows, err := c.source.ActiveOverrides(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.strengthAt = time.Now()
	if err != nil {
		c.logger.Warn().
			Err(err).
			Float64("held_strength", c.strength).
			Msg("Failed to refresh learned strength, holding last value")
		return c.strength
	}
	c.strength = strengthFactor(rows)
	return c.strength
}

// strengthFactor is the confidence-weighted mean multiplier over active
// strength overrides. No qualifying rows, or zero total confidence, means
// neutral 1.0.
func strengthFactor(rows []overrides.Override) float64 {
	var weighted, total float64
	for _, ov := range rows {
		if ov.Key.Kind != overrides.KindStrength || ov.Status != overrides.StatusActive {
			continue
		}
		if ov.Confidence <= 0 {
			continue
		}
		weighted += ov.Multiplier * ov.Confidence
		total += ov.Confidence
	}
	if total == 0 {
		return 1.0
	}
	return weighted / total
}

// ============ Posture Passes ============

// computePosture runs the two posture passes. Pass one folds each flagged
// driver's signed delta into the baseline pair and clamps to [0,1]; pass
// two applies the capped strength effect and clamps again. The passes stay
// decoupled: a macro shock cannot be undone by a learning artifact and a
// learned boost cannot mask an emergency.
func computePosture(cfg config.PostureConfig, flags RegimeFlags, strength float64) AEState {
	a := BaselineAggression
	e := BaselineExposure

	var contributions []DriverContribution
	for _, driver := range cfg.Drivers {
		f, ok := flags[driver.Name]
		if !ok || !f.Active() {
			continue
		}
		var da, de float64
		w := driver.Weight
		if f.Buy {
			if driver.Inverse {
				da -= w
				de += w
			} else {
				da += w
				de -= w
			}
		}
		if f.Trim {
			if driver.Inverse {
				da += w
				de -= w
			} else {
				da -= w
				de += w
			}
		}
		if f.Emergency {
			// Risk-off regardless of driver polarity.
			da -= cfg.EmergencyFactor * w
			de += cfg.EmergencyFactor * w
		}
		a += da
		e += de
		contributions = append(contributions, DriverContribution{
			Name:      driver.Name,
			Weight:    w,
			Inverse:   driver.Inverse,
			Buy:       f.Buy,
			Trim:      f.Trim,
			Emergency: f.Emergency,
			DeltaA:    da,
			DeltaE:    de,
		})
	}
	a = clamp01(a)
	e = clamp01(e)

	effect := clampFloat(cfg.StrengthGain*(strength-1.0), -cfg.StrengthCap, cfg.StrengthCap)
	a = clamp01(a + effect)
	e = clamp01(e - effect)

	return AEState{
		Aggression:     a,
		Exposure:       e,
		Strength:       strength,
		StrengthEffect: effect,
		Contributions:  contributions,
		ComputedAt:     time.Now().UTC(),
	}
}

func clamp01(v float64) float64 {
	return clampFloat(v, 0, 1)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
