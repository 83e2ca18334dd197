// Package lookback decides how far back a sync run scans the device inbox.
package lookback

import "time"

// Mode is the caller-supplied reason for syncing. It parameterizes the
// lookback window and whether permission may be actively requested.
type Mode string

const (
	ModeSignup Mode = "signup"
	ModeLogin  Mode = "login"
	ModeManual Mode = "manual"
	ModeLive   Mode = "live"
)

// Valid reports whether m is one of the known trigger modes.
func Valid(m Mode) bool {
	switch m {
	case ModeSignup, ModeLogin, ModeManual, ModeLive:
		return true
	}
	return false
}

const (
	// backfillWindow is the deep scan used for new accounts and
	// user-initiated re-scans.
	backfillWindow = 90 * 24 * time.Hour

	// liveFallback bounds a live catch-up scan when no watermark exists yet.
	liveFallback = 30 * time.Minute
)

// MinDate returns the earliest message timestamp (epoch millis) a scan in
// the given mode should consider. watermark is the last-import watermark,
// zero when none has been recorded. Pure given its inputs; the caller owns
// reading and writing the watermark.
//
// Login intentionally scans forward only: re-importing months of history
// on every login is worse than missing backfill on a new device.
func MinDate(mode Mode, watermark, now int64) int64 {
	switch mode {
	case ModeSignup, ModeManual:
		return now - backfillWindow.Milliseconds()
	case ModeLogin:
		return now
	case ModeLive:
		if watermark > 0 {
			return watermark
		}
		return now - liveFallback.Milliseconds()
	default:
		return now
	}
}
