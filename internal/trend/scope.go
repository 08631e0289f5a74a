package trend

import (
	"math"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
)

// scopeLookback is the bar count used for the volatility and liquidity buckets.
const scopeLookback = 20

// computeScope buckets the current market context. Dimensions that cannot be
// computed yet (not enough history, zero volume) are simply omitted; lessons
// mined on the remaining dimensions still apply.
func computeScope(bars []Bar, barTime time.Time) patterns.Scope {
	scope := patterns.Scope{"session": sessionBucket(barTime)}
	if v, ok := volatilityBucket(bars); ok {
		scope["volatility"] = v
	}
	if l, ok := liquidityBucket(bars); ok {
		scope["liquidity"] = l
	}
	return scope
}

func sessionBucket(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h < 8:
		return "asia"
	case h < 16:
		return "eu"
	default:
		return "us"
	}
}

// volatilityBucket classifies the stddev of the last scopeLookback returns.
func volatilityBucket(bars []Bar) (string, bool) {
	if len(bars) < scopeLookback+1 {
		return "", false
	}
	recent := bars[len(bars)-scopeLookback-1:]
	returns := make([]float64, 0, scopeLookback)
	for i := 1; i < len(recent); i++ {
		prev := recent[i-1].Close
		if prev <= 0 {
			return "", false
		}
		returns = append(returns, (recent[i].Close-prev)/prev)
	}
	switch sd := stddev(returns); {
	case sd < 0.005:
		return "low", true
	case sd < 0.015:
		return "mid", true
	default:
		return "high", true
	}
}

// liquidityBucket classifies the latest volume against its recent average.
func liquidityBucket(bars []Bar) (string, bool) {
	if len(bars) < scopeLookback {
		return "", false
	}
	recent := bars[len(bars)-scopeLookback:]
	var sum float64
	for _, b := range recent {
		sum += b.Volume
	}
	avg := sum / float64(len(recent))
	if avg <= 0 {
		return "", false
	}
	switch ratio := recent[len(recent)-1].Volume / avg; {
	case ratio < 0.5:
		return "thin", true
	case ratio < 2.0:
		return "normal", true
	default:
		return "surge", true
	}
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
