package session

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyArmed is returned by Arm while an unexpired playback window
// exists. Callers must Cancel the window first.
var ErrAlreadyArmed = errors.New("session: playback timer already armed")

// PlaybackTimer tracks the window during which synthesized audio is assumed
// to be playing. It is polled, not event-driven: Remaining and Finished
// recompute from the wall clock on every call, so there is no cached
// countdown that could drift between ticks.
//
// PlaybackTimer is safe for concurrent use.
type PlaybackTimer struct {
	mu      sync.Mutex
	armed   bool
	endTime time.Time
	now     func() time.Time
}

// TimerOption configures a PlaybackTimer.
type TimerOption func(*PlaybackTimer)

// WithTimerClock injects a clock, letting tests advance time deterministically.
func WithTimerClock(now func() time.Time) TimerOption {
	return func(t *PlaybackTimer) { t.now = now }
}

// NewPlaybackTimer creates an unarmed timer.
func NewPlaybackTimer(opts ...TimerOption) *PlaybackTimer {
	t := &PlaybackTimer{now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Arm opens a playback window ending at now + duration + buffer. The end
// time is set exactly once per window; re-arming over an unexpired window
// fails with ErrAlreadyArmed. An expired window is replaced silently.
func (t *PlaybackTimer) Arm(duration, buffer time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.now()
	if t.armed && n.Before(t.endTime) {
		return ErrAlreadyArmed
	}
	t.armed = true
	t.endTime = n.Add(duration + buffer)
	return nil
}

// Remaining returns how much of the window is left, floored at zero.
// Returns zero when not armed.
func (t *PlaybackTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return 0
	}
	if r := t.endTime.Sub(t.now()); r > 0 {
		return r
	}
	return 0
}

// Finished reports whether the window has elapsed. An unarmed timer is
// finished by definition: no window means nothing is playing.
func (t *PlaybackTimer) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return true
	}
	return !t.now().Before(t.endTime)
}

// Cancel clears the window unconditionally. Safe to call at any time,
// including when not armed.
func (t *PlaybackTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	t.endTime = time.Time{}
}
