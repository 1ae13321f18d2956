package fieldsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffGrowthAndCap(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        400 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            0,
	}
	config.applyDefaults()
	config.Jitter = 0

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 400 * time.Millisecond}, // capped
	}
	for _, tc := range cases {
		if got := config.backoffFor(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
	config.applyDefaults()
	for i := 0; i < 50; i++ {
		got := config.backoffFor(1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jittered backoff %v outside ±10%% of 100ms", got)
		}
	}
}

func TestRetryerRetriesTransientErrors(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	attempts := 0
	result := r.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return NewTransportError(ClassNetwork, 0, "connection refused", nil)
		}
		return nil
	})

	if result.LastErr != nil {
		t.Errorf("expected success, got %v", result.LastErr)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestRetryerStopsOnValidationError(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
	})

	attempts := 0
	result := r.Do(context.Background(), func() error {
		attempts++
		return NewTransportError(ClassValidation, 400, "bad payload", nil)
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt for validation error, got %d", attempts)
	}
	if result.LastErr == nil {
		t.Error("expected an error")
	}
}

func TestRetryerHonorsContextCancellation(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := r.Do(ctx, func() error {
		attempts++
		return NewTransportError(ClassNetwork, 0, "down", nil)
	})

	if attempts >= 10 {
		t.Errorf("expected cancellation to stop retries, got %d attempts", attempts)
	}
	if result.LastErr == nil {
		t.Error("expected an error after cancellation")
	}
}

func TestCircuitBreakerOpensAfterTransientFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)
	transient := NewTransportError(ClassNetwork, 0, "down", nil)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return transient }); err == nil {
			t.Fatal("expected failure")
		}
	}
	if cb.State() != "open" {
		t.Errorf("expected open state, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerIgnoresValidationFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Second)
	rejection := NewTransportError(ClassValidation, 400, "bad payload", nil)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return rejection })
	}
	if cb.State() != "closed" {
		t.Errorf("expected closed state after validation failures, got %s", cb.State())
	}
}

func TestCircuitBreakerResetsAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	_ = cb.Execute(func() error { return NewTransportError(ClassNetwork, 0, "down", nil) })
	if cb.State() != "open" {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("expected half-open probe to succeed, got %v", err)
	}
	if cb.State() != "closed" {
		t.Errorf("expected closed state after successful probe, got %s", cb.State())
	}
}
