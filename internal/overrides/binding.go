package overrides

import (
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
)

// ThresholdBinding names one concrete threshold key a pattern's drift
// projects onto, and which drift multiplier it takes. Floor thresholds (the
// gate passes at or above the value) take the threshold_drift multiplier so
// positive pressure lowers them; width thresholds (the gate passes at or
// below) take the halo_drift multiplier so positive pressure widens them.
type ThresholdBinding struct {
	Name  string
	Phase string
	Level int
	Kind  OverrideKind
}

// DriftBindings maps a pattern key to the threshold rows its drift reaches.
// Only magnitude thresholds are bound. slope_min anchors at or below zero,
// where a multiplier cannot express loosening, and window_bars counts whole
// bars; both stay operator-tuned.
func DriftBindings(patternKey string) []ThresholdBinding {
	switch patternKey {
	case patterns.PatternS1CrossEntry:
		return []ThresholdBinding{
			{Name: trend.ThresholdTSMin, Phase: string(trend.StateS1), Level: 1, Kind: KindThresholdDrift},
		}
	case patterns.PatternS2ConfirmAdd:
		return []ThresholdBinding{
			{Name: trend.ThresholdTSMin, Phase: string(trend.StateS2), Level: 1, Kind: KindThresholdDrift},
		}
	case patterns.PatternS3FirstDip:
		return []ThresholdBinding{
			{Name: trend.ThresholdTSMin, Phase: string(trend.StateS3), Level: 1, Kind: KindThresholdDrift},
			{Name: trend.ThresholdHalo, Phase: string(trend.StateS3), Level: 1, Kind: KindHaloDrift},
		}
	case patterns.PatternS3BreakTrim:
		// Pass condition is strength <= trim_ts_max, so raising it admits
		// more trims: the width side of the drift pair.
		return []ThresholdBinding{
			{Name: trend.ThresholdTrimTSMax, Phase: string(trend.StateS3), Level: 1, Kind: KindHaloDrift},
		}
	case patterns.PatternBearFlipExit:
		return []ThresholdBinding{
			{Name: trend.ThresholdExitSpreadMin, Phase: string(trend.StateS0), Level: 1, Kind: KindThresholdDrift},
		}
	}
	return nil
}
