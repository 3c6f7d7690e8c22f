package service

import "time"

// Clock returns the current time.
type Clock func() time.Time

// SystemClock returns time.Now.
func SystemClock() Clock {
	return time.Now
}
