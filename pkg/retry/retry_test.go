package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:    maxRetries,
		BackoffFactor: 2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Jitter:        time.Millisecond,
	}
}

func TestRetry_SuccessOnFirstTry(t *testing.T) {
	retrier := NewRetrier(fastConfig(3))

	counter := 0
	err := retrier.Do(context.Background(), func() error {
		counter++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter != 1 {
		t.Errorf("expected 1 attempt, got %d", counter)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	retrier := NewRetrier(fastConfig(3))

	counter := 0
	err := retrier.Do(context.Background(), func() error {
		counter++
		if counter < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter != 3 {
		t.Errorf("expected 3 attempts, got %d", counter)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	retrier := NewRetrier(fastConfig(2))

	expectedErr := errors.New("permanent error")
	counter := 0
	err := retrier.Do(context.Background(), func() error {
		counter++
		return expectedErr
	})
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}
	if counter != 3 {
		t.Errorf("expected 3 attempts, got %d", counter)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	busy := errors.New("busy")
	fatal := errors.New("constraint failed")

	cfg := fastConfig(5)
	cfg.IsRetryable = func(err error) bool { return errors.Is(err, busy) }
	retrier := NewRetrier(cfg)

	tests := []struct {
		name         string
		errs         []error
		wantErr      error
		wantAttempts int
	}{
		{name: "fatal_first", errs: []error{fatal}, wantErr: fatal, wantAttempts: 1},
		{name: "busy_then_fatal", errs: []error{busy, fatal}, wantErr: fatal, wantAttempts: 2},
		{name: "busy_then_ok", errs: []error{busy, busy, nil}, wantErr: nil, wantAttempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempt := 0
			err := retrier.Do(context.Background(), func() error {
				e := tt.errs[attempt]
				attempt++
				return e
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if attempt != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempt, tt.wantAttempts)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	retrier := NewDefaultRetrier()

	err := retrier.Do(ctx, func() error {
		cancel()
		return errors.New("operation error after cancel")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetry_DelayIsCapped(t *testing.T) {
	cfg := &Config{
		MaxRetries:    3,
		BackoffFactor: 100,
		InitialDelay:  2 * time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	}
	retrier := NewRetrier(cfg)

	start := time.Now()
	_ = retrier.Do(context.Background(), func() error { return errors.New("error") })
	elapsed := time.Since(start)

	// 2ms + 5ms + 5ms, generous upper bound for slow CI
	if elapsed > time.Second {
		t.Errorf("expected capped delays, took %v", elapsed)
	}
	if elapsed < 12*time.Millisecond {
		t.Errorf("expected at least 12ms of backoff, took %v", elapsed)
	}
}
