package ratelimit

import "time"

// Clock abstracts time for the limiter so tests can drive refill and
// window expiry deterministically instead of sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
