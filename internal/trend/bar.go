package trend

import (
	"fmt"
	"time"
)

// Bar represents a single closed OHLCV bar for one position.
type Bar struct {
	Token     string    `json:"token"`
	Chain     string    `json:"chain"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Valid reports whether the bar carries usable price data.
func (b Bar) Valid() bool {
	if b.Close <= 0 || b.Open <= 0 || b.High <= 0 || b.Low <= 0 {
		return false
	}
	if b.High < b.Low {
		return false
	}
	return !b.Timestamp.IsZero()
}

// PositionKey identifies one independently-evolving position.
type PositionKey struct {
	Token     string `json:"token"`
	Chain     string `json:"chain"`
	Timeframe string `json:"timeframe"`
}

// Key returns the position key of the bar.
func (b Bar) Key() PositionKey {
	return PositionKey{Token: b.Token, Chain: b.Chain, Timeframe: b.Timeframe}
}

// String renders the key in token:chain:timeframe form, used in logs and
// persistence keys.
func (k PositionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Token, k.Chain, k.Timeframe)
}

// barWindow is a bounded ring of recent bars for one position. The window
// backs slope estimation, support clustering, scope bucketing and episode
// resolution; it is not a price store.
type barWindow struct {
	bars []Bar
	max  int
}

func newBarWindow(max int) *barWindow {
	if max < 8 {
		max = 8
	}
	return &barWindow{bars: make([]Bar, 0, max), max: max}
}

func (w *barWindow) push(b Bar) {
	w.bars = append(w.bars, b)
	if len(w.bars) > w.max {
		// Drop the oldest; copy keeps the backing array bounded.
		copy(w.bars, w.bars[1:])
		w.bars = w.bars[:w.max]
	}
}

func (w *barWindow) len() int {
	return len(w.bars)
}

func (w *barWindow) last() (Bar, bool) {
	if len(w.bars) == 0 {
		return Bar{}, false
	}
	return w.bars[len(w.bars)-1], true
}

// since returns all bars with a timestamp strictly after t, oldest first.
func (w *barWindow) since(t time.Time) []Bar {
	for i, b := range w.bars {
		if b.Timestamp.After(t) {
			out := make([]Bar, len(w.bars)-i)
			copy(out, w.bars[i:])
			return out
		}
	}
	return nil
}

// tail returns the most recent n bars, oldest first.
func (w *barWindow) tail(n int) []Bar {
	if n <= 0 || len(w.bars) == 0 {
		return nil
	}
	if n > len(w.bars) {
		n = len(w.bars)
	}
	out := make([]Bar, n)
	copy(out, w.bars[len(w.bars)-n:])
	return out
}
