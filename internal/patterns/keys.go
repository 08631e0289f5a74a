package patterns

// Canonical pattern keys for the built-in gating rules. Trade and episode
// events, mined lessons and materialized overrides all key on these strings.
const (
	PatternS1CrossEntry = "s1_cross_entry"
	PatternS2ConfirmAdd = "s2_confirm_add"
	PatternS3FirstDip   = "s3_first_dip"
	PatternS3BreakTrim  = "s3_break_trim"
	PatternBearFlipExit = "bear_flip_exit"
)
