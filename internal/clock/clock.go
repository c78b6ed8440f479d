// Package clock abstracts timers so reconnect and retention logic can be
// driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the session layer depends on.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is returned by AfterFunc. Stop reports whether it prevented the
// callback from running.
type Timer struct {
	stopFunc func() bool
}

func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
