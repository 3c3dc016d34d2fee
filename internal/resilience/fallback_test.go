package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestFallbackGroup_PrimarySucceeds(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	var used string
	err := fg.Execute(func(v string) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != "primary" {
		t.Errorf("used = %q, want primary", used)
	}
}

func TestFallbackGroup_FailoverToBackup(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	var attempts []string
	err := fg.Execute(func(v string) error {
		attempts = append(attempts, v)
		if v == "primary" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 2 || attempts[0] != "primary" || attempts[1] != "backup" {
		t.Errorf("attempts = %v, want [primary backup]", attempts)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	clock := newFakeClock()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: time.Hour,
			Now:          clock.now,
		},
	})
	fg.AddFallback("backup", "backup")

	// Trip the primary's breaker.
	_ = fg.Execute(func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})

	// Primary is now open; it must not be called again.
	var attempts []string
	err := fg.Execute(func(v string) error {
		attempts = append(attempts, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 1 || attempts[0] != "backup" {
		t.Errorf("attempts = %v, want [backup]", attempts)
	}

	states := fg.States()
	if states["primary"] != StateOpen {
		t.Errorf("primary state = %v, want open", states["primary"])
	}
	if states["backup"] != StateClosed {
		t.Errorf("backup state = %v, want closed", states["backup"])
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	fg.AddFallback("two", 2)

	got, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 1 {
			return "", errTest
		}
		return "from-two", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-two" {
		t.Errorf("result = %q, want from-two", got)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{})

	got, err := ExecuteWithResult(fg, func(int) (string, error) {
		return "partial", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if got != "" {
		t.Errorf("result = %q, want zero value on failure", got)
	}
}
