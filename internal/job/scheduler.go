package job

import "time"

// Scheduler defers work instead of sleeping in place, so retry backoff can
// be driven by a fake clock in tests.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (cancel func())
}

// TimerScheduler runs callbacks on real timers.
type TimerScheduler struct{}

func (TimerScheduler) Schedule(delay time.Duration, fn func()) func() {
	t := time.AfterFunc(delay, fn)
	return func() { t.Stop() }
}

// ImmediateScheduler runs callbacks synchronously, ignoring the delay.
// Used by the one-shot CLI path and by tests.
type ImmediateScheduler struct{}

func (ImmediateScheduler) Schedule(_ time.Duration, fn func()) func() {
	fn()
	return func() {}
}
