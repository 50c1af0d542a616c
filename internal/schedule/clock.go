package schedule

import "time"

// Clock supplies the current time. The dispatcher takes one so tests can
// step through days in milliseconds.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by time.Now.
func System() Clock { return systemClock{} }
