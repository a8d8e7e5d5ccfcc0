package markethours

import (
	"testing"
	"time"
)

func ist(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid-session Tuesday", ist(2026, time.March, 3, 11, 30), true},
		{"first minute", ist(2026, time.March, 3, 9, 15), true},
		{"last minute", ist(2026, time.March, 3, 15, 29), true},
		{"at close", ist(2026, time.March, 3, 15, 30), false},
		{"pre-open", ist(2026, time.March, 3, 9, 0), false},
		{"Saturday", ist(2026, time.March, 7, 11, 0), false},
		{"Sunday", ist(2026, time.March, 8, 11, 0), false},
		{"Republic Day", ist(2026, time.January, 26, 11, 0), false},
		{"Christmas", ist(2026, time.December, 25, 11, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsMarketOpen(tc.at); got != tc.want {
				t.Errorf("IsMarketOpen(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestIsMarketOpen_UTCConversion(t *testing.T) {
	// 06:00 UTC is 11:30 IST, mid-session
	at := time.Date(2026, time.March, 3, 6, 0, 0, 0, time.UTC)
	if !IsMarketOpen(at) {
		t.Error("06:00 UTC on a trading day should be open (11:30 IST)")
	}
	// 10:01 UTC is 15:31 IST, after close
	at = time.Date(2026, time.March, 3, 10, 1, 0, 0, time.UTC)
	if IsMarketOpen(at) {
		t.Error("10:01 UTC should be closed (15:31 IST)")
	}
}

func TestNextOpen(t *testing.T) {
	// Before today's open on a trading day: today's open
	got := NextOpen(ist(2026, time.March, 3, 8, 0))
	if !got.Equal(ist(2026, time.March, 3, 9, 15)) {
		t.Errorf("NextOpen before open = %s", got)
	}

	// After close on Friday: Monday's open
	got = NextOpen(ist(2026, time.March, 6, 16, 0))
	if !got.Equal(ist(2026, time.March, 9, 9, 15)) {
		t.Errorf("NextOpen Friday evening = %s", got)
	}

	// Day before Republic Day (Mon Jan 26): skips to Tuesday
	got = NextOpen(ist(2026, time.January, 25, 12, 0))
	if !got.Equal(ist(2026, time.January, 27, 9, 15)) {
		t.Errorf("NextOpen across holiday = %s", got)
	}
}

func TestTodayClose(t *testing.T) {
	got := TodayClose(ist(2026, time.March, 3, 10, 0))
	if !got.Equal(ist(2026, time.March, 3, 15, 30)) {
		t.Errorf("TodayClose = %s", got)
	}
}

func TestTickTTL(t *testing.T) {
	// Mid-session: TTL runs to IST midnight
	ttl := TickTTL(ist(2026, time.March, 3, 12, 0))
	if ttl != 12*time.Hour {
		t.Errorf("noon TTL = %s, want 12h", ttl)
	}

	// Just before midnight: floored at one hour
	ttl = TickTTL(ist(2026, time.March, 3, 23, 45))
	if ttl != time.Hour {
		t.Errorf("late-night TTL = %s, want 1h floor", ttl)
	}
}
