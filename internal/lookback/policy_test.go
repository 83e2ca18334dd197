package lookback

import (
	"testing"
	"time"
)

const (
	day    = int64(24 * time.Hour / time.Millisecond)
	minute = int64(time.Minute / time.Millisecond)
)

func TestMinDate(t *testing.T) {
	now := int64(1_700_000_000_000)

	tests := []struct {
		name      string
		mode      Mode
		watermark int64
		want      int64
	}{
		{"signup backfills 90 days", ModeSignup, 0, now - 90*day},
		{"manual backfills 90 days", ModeManual, 0, now - 90*day},
		{"manual ignores watermark", ModeManual, now - day, now - 90*day},
		{"login is forward only", ModeLogin, 0, now},
		{"login ignores watermark", ModeLogin, now - 30*day, now},
		{"live resumes at watermark", ModeLive, now - 5*minute, now - 5*minute},
		{"live without watermark falls back 30 minutes", ModeLive, 0, now - 30*minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MinDate(tt.mode, tt.watermark, now); got != tt.want {
				t.Errorf("MinDate(%s, %d, now) = %d, want %d", tt.mode, tt.watermark, got, tt.want)
			}
		})
	}
}

func TestMinDateDeterministic(t *testing.T) {
	now := int64(1_600_000_000_000)
	w := now - 7*day
	if MinDate(ModeLive, w, now) != w {
		t.Errorf("live mode with watermark %d must return it exactly", w)
	}
	for _, wm := range []int64{0, now - day, now} {
		if got := MinDate(ModeLogin, wm, now); got != now {
			t.Errorf("MinDate(login, %d) = %d, want now regardless of watermark", wm, got)
		}
	}
}

func TestValid(t *testing.T) {
	for _, m := range []Mode{ModeSignup, ModeLogin, ModeManual, ModeLive} {
		if !Valid(m) {
			t.Errorf("Valid(%s) = false", m)
		}
	}
	if Valid(Mode("periodic")) {
		t.Error("Valid(periodic) = true, want false")
	}
}
