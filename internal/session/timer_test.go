package session

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for timer tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestTimerWindowBoundary(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	timer := NewPlaybackTimer(WithTimerClock(clock.now))

	if err := timer.Arm(3*time.Second, 500*time.Millisecond); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	// The window covers [T0, T0+3.5s); it flips exactly at the end time.
	for _, offset := range []time.Duration{0, time.Second, 3 * time.Second, 3499 * time.Millisecond} {
		clock.t = newFakeClock().t.Add(offset)
		if timer.Finished() {
			t.Fatalf("Finished() = true at T0+%v, want false", offset)
		}
	}
	clock.t = newFakeClock().t.Add(3500 * time.Millisecond)
	if !timer.Finished() {
		t.Fatalf("Finished() = false at exactly T0+3.5s, want true")
	}
	clock.advance(time.Hour)
	if !timer.Finished() {
		t.Fatalf("Finished() = false long after expiry, want true")
	}
}

func TestTimerRemaining(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	timer := NewPlaybackTimer(WithTimerClock(clock.now))

	if got := timer.Remaining(); got != 0 {
		t.Fatalf("Remaining on unarmed timer = %v, want 0", got)
	}

	if err := timer.Arm(2*time.Second, time.Second); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if got := timer.Remaining(); got != 3*time.Second {
		t.Fatalf("Remaining = %v, want 3s", got)
	}
	clock.advance(2500 * time.Millisecond)
	if got := timer.Remaining(); got != 500*time.Millisecond {
		t.Fatalf("Remaining = %v, want 500ms", got)
	}
	clock.advance(time.Second)
	if got := timer.Remaining(); got != 0 {
		t.Fatalf("Remaining past expiry = %v, want 0 (floored)", got)
	}
}

func TestTimerRearm(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	timer := NewPlaybackTimer(WithTimerClock(clock.now))

	if err := timer.Arm(time.Second, 0); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := timer.Arm(time.Second, 0); !errors.Is(err, ErrAlreadyArmed) {
		t.Fatalf("Arm over unexpired window: err = %v, want ErrAlreadyArmed", err)
	}

	// An expired window is replaced silently.
	clock.advance(2 * time.Second)
	if err := timer.Arm(time.Second, 0); err != nil {
		t.Fatalf("Arm over expired window: %v", err)
	}
	if timer.Finished() {
		t.Fatalf("fresh window reported finished")
	}
}

func TestTimerCancel(t *testing.T) {
	t.Parallel()

	timer := NewPlaybackTimer(WithTimerClock(newFakeClock().now))

	// Cancel is unconditional: unarmed, armed, repeated.
	timer.Cancel()
	if err := timer.Arm(time.Minute, 0); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	timer.Cancel()
	timer.Cancel()
	if !timer.Finished() {
		t.Fatalf("cancelled timer not finished")
	}
	if got := timer.Remaining(); got != 0 {
		t.Fatalf("cancelled timer Remaining = %v, want 0", got)
	}
	if err := timer.Arm(time.Second, 0); err != nil {
		t.Fatalf("Arm after Cancel: %v", err)
	}
}

func TestStatusLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state     State
		remaining time.Duration
		want      string
	}{
		{StateIdle, 0, "IDLE"},
		{StateListening, 0, "LISTENING"},
		{StateRecording, 0, "RECORDING"},
		{StateProcessing, 0, "PROCESSING"},
		{StateSpeaking, 2300 * time.Millisecond, "SPEAKING (2.3s left)"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.state, tt.remaining); got != tt.want {
			t.Errorf("statusLabel(%v, %v) = %q, want %q", tt.state, tt.remaining, got, tt.want)
		}
	}
}
