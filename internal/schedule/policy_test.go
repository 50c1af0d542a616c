package schedule

import (
	"testing"
	"time"

	"childebot/internal/store"
)

func TestDailyValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		hour    int
		minute  int
		tz      string
		wantErr bool
	}{
		{"midnight utc", 0, 0, "", false},
		{"evening with zone", 21, 30, "Europe/Prague", false},
		{"last minute", 23, 59, "", false},
		{"hour too big", 24, 0, "", true},
		{"negative hour", -1, 0, "", true},
		{"minute too big", 9, 60, "", true},
		{"bogus zone", 9, 0, "Mars/Olympus", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Daily(tc.hour, tc.minute, tc.tz)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Daily(%d,%d,%q) err = %v, wantErr = %v", tc.hour, tc.minute, tc.tz, err, tc.wantErr)
			}
		})
	}
}

func TestEveryNHoursValidation(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 6, 24} {
		if _, err := EveryNHours(n); err != nil {
			t.Fatalf("EveryNHours(%d): %v", n, err)
		}
	}
	for _, n := range []int{0, -3} {
		if _, err := EveryNHours(n); err == nil {
			t.Fatalf("EveryNHours(%d): expected error", n)
		}
	}
}

func TestDailyDue(t *testing.T) {
	t.Parallel()

	p, err := Daily(9, 0, "")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		now     time.Time
		last    string
		wantDue bool
		wantWin string
	}{
		{
			name:    "exact minute, never fired",
			now:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
			wantDue: true,
			wantWin: "d:2026-03-10",
		},
		{
			name:    "exact minute but window already fired",
			now:     time.Date(2026, 3, 10, 9, 0, 30, 0, time.UTC),
			last:    "d:2026-03-10",
			wantDue: false,
			wantWin: "d:2026-03-10",
		},
		{
			name:    "next day fires again",
			now:     time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
			last:    "d:2026-03-10",
			wantDue: true,
			wantWin: "d:2026-03-11",
		},
		{
			name:    "wrong minute",
			now:     time.Date(2026, 3, 10, 9, 1, 0, 0, time.UTC),
			wantDue: false,
			wantWin: "d:2026-03-10",
		},
		{
			name:    "wrong hour",
			now:     time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
			wantDue: false,
			wantWin: "d:2026-03-10",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			due, win, err := Due(p, tc.now, tc.last)
			if err != nil {
				t.Fatal(err)
			}
			if due != tc.wantDue || win != tc.wantWin {
				t.Fatalf("Due = (%v, %q), want (%v, %q)", due, win, tc.wantDue, tc.wantWin)
			}
		})
	}
}

func TestDailyDueRespectsTimezone(t *testing.T) {
	t.Parallel()

	p, err := Daily(9, 0, "Asia/Tokyo")
	if err != nil {
		t.Fatal(err)
	}
	// 00:00 UTC is 09:00 in Tokyo.
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	due, win, err := Due(p, now, "")
	if err != nil {
		t.Fatal(err)
	}
	if !due {
		t.Fatal("expected due at 09:00 Tokyo time")
	}
	if win != "d:2026-03-10" {
		t.Fatalf("window = %q", win)
	}
}

func TestEveryDue(t *testing.T) {
	t.Parallel()

	p, err := EveryNHours(6)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		now     time.Time
		last    string
		wantDue bool
	}{
		{"midnight slot", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "", true},
		{"mid-slot tick still due", time.Date(2026, 3, 10, 6, 42, 0, 0, time.UTC), "", true},
		{"slot already fired", time.Date(2026, 3, 10, 6, 42, 0, 0, time.UTC), "h:2026-03-10T06", false},
		{"off-slot hour", time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), "", false},
		{"next slot after fired", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), "h:2026-03-10T06", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			due, _, err := Due(p, tc.now, tc.last)
			if err != nil {
				t.Fatal(err)
			}
			if due != tc.wantDue {
				t.Fatalf("due = %v, want %v", due, tc.wantDue)
			}
		})
	}
}

func TestDueRejectsBrokenPolicy(t *testing.T) {
	t.Parallel()

	if _, _, err := Due(store.TriggerPolicy{}, time.Now(), ""); err == nil {
		t.Fatal("expected error for empty policy")
	}
	bad := store.TriggerPolicy{Kind: store.PolicyKind("weekly")}
	if _, _, err := Due(bad, time.Now(), ""); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	p, _ := Daily(9, 5, "Europe/Prague")
	if got := Describe(p); got != "daily at 09:05 Europe/Prague" {
		t.Fatalf("Describe daily = %q", got)
	}
	e, _ := EveryNHours(1)
	if got := Describe(e); got != "every hour" {
		t.Fatalf("Describe hourly = %q", got)
	}
	if got := Describe(store.TriggerPolicy{}); got != "not configured" {
		t.Fatalf("Describe empty = %q", got)
	}
}
