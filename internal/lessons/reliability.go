package lessons

import (
	"math"
	"time"
)

// ============================================================================
// RELIABILITY & DECAY
// ============================================================================

// ReliabilityParams are the shrinkage priors applied to small slices.
type ReliabilityParams struct {
	SamplePrior float64 // pseudo-trades pulling n/(n+prior) toward 0
	VarPrior    float64 // prior R/R variance blended into the estimate
	VarPriorObs float64 // weight of the variance prior in pseudo-observations
}

// Reliability scores how much a slice's R/R average deserves to be believed,
// in (0,1). The sample term shrinks toward 0 for small n; the variance term
// blends a prior into the observed spread so a handful of identical outcomes
// never reads as certainty.
func Reliability(rrs []float64, p ReliabilityParams) float64 {
	n := float64(len(rrs))
	if n == 0 {
		return 0
	}

	mean := 0.0
	for _, rr := range rrs {
		mean += rr
	}
	mean /= n

	ss := 0.0
	for _, rr := range rrs {
		d := rr - mean
		ss += d * d
	}
	varShrunk := (ss + p.VarPrior*p.VarPriorObs) / (n + p.VarPriorObs)

	sampleTerm := n / (n + p.SamplePrior)
	return sampleTerm * 1.0 / (1.0 + varShrunk)
}

// Decay returns the half-life decay multiplier for a slice whose freshest
// trade is age old. Age is measured from the mining window end, not the wall
// clock, which keeps reruns over an unchanged window identical.
func Decay(age, halfLife time.Duration) float64 {
	if halfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours())
}
