package sigv4

import "time"

// Clock provides the wall-clock instant a signature is stamped with.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the system time.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// fixedClock always returns the same time.
type fixedClock struct {
	time time.Time
}

func (c fixedClock) Now() time.Time {
	return c.time
}

// FixedClock returns a Clock pinned to t. Signatures are a function of
// the timestamp, so tests use this to make them reproducible.
func FixedClock(t time.Time) Clock {
	return fixedClock{time: t}
}
