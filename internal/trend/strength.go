package trend

import (
	"math"
	"sort"
)

// ============================================================================
// TREND STRENGTH (TS SCORE)
// ============================================================================

// TrendStrength computes the composite trend-strength score in [0, 1] from
// the EMA stack, the slopes and the price position. Weights: 40% alignment,
// 30% slope agreement, 30% price position.
func TrendStrength(in TransitionInput) float64 {
	alignment := alignmentScore(in)
	slopes := slopeScore(in.Slopes)
	position := positionScore(in)

	score := alignment*0.4 + slopes*0.3 + position*0.3
	return clamp01(score)
}

// alignmentScore counts how much of the bullish EMA ordering holds.
func alignmentScore(in TransitionInput) float64 {
	checks := 0.0
	if in.EMAs.Fast > in.EMAs.Mid {
		checks++
	}
	if in.EMAs.Mid > in.EMAs.Slow {
		checks++
	}
	if in.EMAs.Slow > in.EMAs.Long {
		checks++
	}
	if in.Price > in.EMAs.Fast {
		checks++
	}
	return checks / 4.0
}

// slopeScore rewards agreeing positive slopes, scaled so that a sustained
// 0.1%/bar rise across the stack saturates the component.
func slopeScore(s Slopes) float64 {
	score := 0.0
	for _, slope := range []float64{s.Fast, s.Mid, s.Slow, s.Long} {
		score += clamp01(slope/0.001) / 4.0
	}
	return score
}

// positionScore measures where price sits between the slow and fast bands.
func positionScore(in TransitionInput) float64 {
	span := in.EMAs.Fast - in.EMAs.Slow
	if span <= 0 || in.EMAs.Slow <= 0 {
		if in.Price > in.EMAs.Slow && in.EMAs.Slow > 0 {
			return 0.5
		}
		return 0
	}
	pos := (in.Price - in.EMAs.Slow) / span
	return clamp01(pos)
}

// ============================================================================
// SUPPORT LEVELS
// ============================================================================

// supportLevels clusters recent bar lows into support levels. Lows within
// tolerance of each other merge into one level at their average; levels are
// returned descending.
func supportLevels(bars []Bar, tolerance float64) []float64 {
	if len(bars) == 0 {
		return nil
	}
	lows := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Low > 0 {
			lows = append(lows, b.Low)
		}
	}
	if len(lows) == 0 {
		return nil
	}
	sort.Float64s(lows)

	var levels []float64
	clusterSum := lows[0]
	clusterCount := 1
	clusterBase := lows[0]
	for _, low := range lows[1:] {
		if clusterBase > 0 && (low-clusterBase)/clusterBase <= tolerance {
			clusterSum += low
			clusterCount++
			continue
		}
		levels = append(levels, clusterSum/float64(clusterCount))
		clusterSum = low
		clusterCount = 1
		clusterBase = low
	}
	levels = append(levels, clusterSum/float64(clusterCount))

	sort.Sort(sort.Reverse(sort.Float64Slice(levels)))
	return levels
}

// isPriceAtSupport reports whether price is within tolerance of any level.
func isPriceAtSupport(price float64, levels []float64, tolerance float64) bool {
	for _, level := range levels {
		if level <= 0 {
			continue
		}
		if math.Abs(price-level)/level <= tolerance {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
