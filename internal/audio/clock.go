package audio

import "time"

// Timer is a cancellable one-shot timer
type Timer interface {
	Stop() bool
}

// Clock schedules the auto-stop. Readings from Now are compared only with
// each other, so the monotonic component of time.Time is what matters.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns the runtime clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
