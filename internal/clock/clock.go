// Package clock provides an injectable source of monotonic time so the
// scheduler and publisher beats can be driven deterministically in tests
// instead of sleeping on the wall clock.
package clock

import "time"

// Clock abstracts time so beats and backoff timers can be faked in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of time.Timer used by the engine's beats.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Real is the production Clock backed by the standard library.
type Real struct{}

// New returns the real, wall-clock Clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now().UTC() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
