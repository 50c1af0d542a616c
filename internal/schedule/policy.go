package schedule

import (
	"fmt"
	"time"

	"childebot/internal/store"
)

// Daily builds a policy that fires once per local day at hour:minute.
func Daily(hour, minute int, tz string) (store.TriggerPolicy, error) {
	p := store.TriggerPolicy{
		Kind:     store.PolicyDaily,
		Hour:     hour,
		Minute:   minute,
		Timezone: tz,
	}
	if err := Validate(p); err != nil {
		return store.TriggerPolicy{}, err
	}
	return p, nil
}

// EveryNHours builds a policy that fires whenever the wall-clock hour is a
// multiple of n. n=1 fires every hour, n=24 once a day at midnight.
func EveryNHours(n int) (store.TriggerPolicy, error) {
	p := store.TriggerPolicy{Kind: store.PolicyEvery, EveryHours: n}
	if err := Validate(p); err != nil {
		return store.TriggerPolicy{}, err
	}
	return p, nil
}

// Validate checks policy parameters without consulting a clock.
func Validate(p store.TriggerPolicy) error {
	switch p.Kind {
	case store.PolicyDaily:
		if p.Hour < 0 || p.Hour > 23 {
			return fmt.Errorf("hour out of range: %d", p.Hour)
		}
		if p.Minute < 0 || p.Minute > 59 {
			return fmt.Errorf("minute out of range: %d", p.Minute)
		}
		if _, err := Location(p); err != nil {
			return err
		}
		return nil
	case store.PolicyEvery:
		if p.EveryHours < 1 {
			return fmt.Errorf("every-hours must be >= 1, got %d", p.EveryHours)
		}
		return nil
	case "":
		return fmt.Errorf("no trigger policy configured")
	default:
		return fmt.Errorf("unknown policy kind: %q", p.Kind)
	}
}

// Location resolves the policy timezone, defaulting to UTC.
func Location(p store.TriggerPolicy) (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// Window returns the delivery-window key that now falls into. Daily policies
// key on the local date, interval policies on the local date and hour, so a
// window can fire at most once no matter how many ticks land inside it.
func Window(p store.TriggerPolicy, now time.Time) (string, error) {
	loc, err := Location(p)
	if err != nil {
		return "", err
	}
	local := now.In(loc)
	switch p.Kind {
	case store.PolicyDaily:
		return "d:" + local.Format("2006-01-02"), nil
	case store.PolicyEvery:
		return "h:" + local.Format("2006-01-02T15"), nil
	default:
		return "", fmt.Errorf("unknown policy kind: %q", p.Kind)
	}
}

// Due reports whether the policy should fire at now, given the last window
// that already fired. When due, it also returns the window key to persist.
func Due(p store.TriggerPolicy, now time.Time, lastWindow string) (bool, string, error) {
	if err := Validate(p); err != nil {
		return false, "", err
	}
	loc, err := Location(p)
	if err != nil {
		return false, "", err
	}
	local := now.In(loc)

	window, err := Window(p, now)
	if err != nil {
		return false, "", err
	}
	if window == lastWindow {
		return false, window, nil
	}

	switch p.Kind {
	case store.PolicyDaily:
		return local.Hour() == p.Hour && local.Minute() == p.Minute, window, nil
	case store.PolicyEvery:
		// Anchored to the wall clock rather than the last delivery, so a
		// 6-hour policy fires at 00, 06, 12 and 18 regardless of restarts.
		return local.Hour()%p.EveryHours == 0, window, nil
	default:
		return false, "", fmt.Errorf("unknown policy kind: %q", p.Kind)
	}
}

// Describe renders a policy for status output.
func Describe(p store.TriggerPolicy) string {
	switch p.Kind {
	case store.PolicyDaily:
		tz := p.Timezone
		if tz == "" {
			tz = "UTC"
		}
		return fmt.Sprintf("daily at %02d:%02d %s", p.Hour, p.Minute, tz)
	case store.PolicyEvery:
		if p.EveryHours == 1 {
			return "every hour"
		}
		return fmt.Sprintf("every %d hours", p.EveryHours)
	default:
		return "not configured"
	}
}
