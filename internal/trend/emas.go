package trend

// ============================================================================
// EMA STACK
// ============================================================================

// ema is an incrementally-updated exponential moving average, seeded with the
// simple average of the first period closes.
type ema struct {
	period    int
	mult      float64
	value     float64
	seeded    bool
	seedSum   float64
	seedCount int

	// recent values, newest last, for slope estimation
	history []float64
	keep    int
}

func newEMA(period, slopeLookback int) *ema {
	if period < 2 {
		period = 2
	}
	if slopeLookback < 1 {
		slopeLookback = 1
	}
	return &ema{
		period:  period,
		mult:    2.0 / float64(period+1),
		keep:    slopeLookback + 1,
		history: make([]float64, 0, slopeLookback+1),
	}
}

func (e *ema) update(price float64) {
	if !e.seeded {
		e.seedSum += price
		e.seedCount++
		if e.seedCount >= e.period {
			e.value = e.seedSum / float64(e.period)
			e.seeded = true
			e.record(e.value)
		}
		return
	}
	e.value = (price-e.value)*e.mult + e.value
	e.record(e.value)
}

func (e *ema) record(v float64) {
	e.history = append(e.history, v)
	if len(e.history) > e.keep {
		copy(e.history, e.history[1:])
		e.history = e.history[:e.keep]
	}
}

func (e *ema) ready() bool {
	return e.seeded
}

// slope returns the average per-bar fractional change over the retained
// lookback. Zero until enough post-seed history exists.
func (e *ema) slope() float64 {
	n := len(e.history)
	if n < 2 {
		return 0
	}
	first := e.history[0]
	lastVal := e.history[n-1]
	if first == 0 {
		return 0
	}
	return (lastVal - first) / first / float64(n-1)
}

// EMAStack holds the current values of the ordered EMA set.
type EMAStack struct {
	Fast float64 `json:"fast"`
	Mid  float64 `json:"mid"`
	Slow float64 `json:"slow"`
	Long float64 `json:"long"`
}

// Slopes holds per-bar fractional slope estimates for the EMA set.
type Slopes struct {
	Fast float64 `json:"fast"`
	Mid  float64 `json:"mid"`
	Slow float64 `json:"slow"`
	Long float64 `json:"long"`
}

// emaSet bundles the four engine EMAs.
type emaSet struct {
	fast *ema
	mid  *ema
	slow *ema
	long *ema
}

func newEMASet(fast, mid, slow, long, slopeLookback int) *emaSet {
	return &emaSet{
		fast: newEMA(fast, slopeLookback),
		mid:  newEMA(mid, slopeLookback),
		slow: newEMA(slow, slopeLookback),
		long: newEMA(long, slopeLookback),
	}
}

func (s *emaSet) update(price float64) {
	s.fast.update(price)
	s.mid.update(price)
	s.slow.update(price)
	s.long.update(price)
}

// ready reports whether every EMA in the stack is seeded.
func (s *emaSet) ready() bool {
	return s.fast.ready() && s.mid.ready() && s.slow.ready() && s.long.ready()
}

func (s *emaSet) values() EMAStack {
	return EMAStack{
		Fast: s.fast.value,
		Mid:  s.mid.value,
		Slow: s.slow.value,
		Long: s.long.value,
	}
}

func (s *emaSet) slopes() Slopes {
	return Slopes{
		Fast: s.fast.slope(),
		Mid:  s.mid.slope(),
		Slow: s.slow.slope(),
		Long: s.long.slope(),
	}
}

// restore seeds the stack from persisted values so a restarted engine skips
// the warm-up. Slope history restarts flat.
func (s *emaSet) restore(v EMAStack) {
	s.fast.restore(v.Fast)
	s.mid.restore(v.Mid)
	s.slow.restore(v.Slow)
	s.long.restore(v.Long)
}

func (e *ema) restore(v float64) {
	if v <= 0 {
		return
	}
	e.value = v
	e.seeded = true
	e.history = append(e.history[:0], v)
}
