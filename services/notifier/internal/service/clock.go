package service

import "time"

// Clock abstracts time so tests can drive the retry schedule without
// real waits.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }
