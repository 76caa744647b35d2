package retry

import (
	"context"
	"math/rand"
	"time"
)

type Operation = func() error

type Config struct {
	MaxRetries    int
	BackoffFactor float64
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Jitter        time.Duration
	// IsRetryable reports whether err is worth another attempt.
	// Nil means every error is retried.
	IsRetryable func(err error) bool
}

func NewDefaultConfig() *Config {
	return &Config{
		MaxRetries:    5,
		BackoffFactor: 2.15,
		InitialDelay:  300 * time.Millisecond,
		MaxDelay:      20 * time.Second,
		Jitter:        50 * time.Millisecond,
	}
}

// NewStoreConfig is tuned for short lock contention on the local database.
func NewStoreConfig(isRetryable func(error) bool) *Config {
	return &Config{
		MaxRetries:    6,
		BackoffFactor: 2,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      time.Second,
		Jitter:        10 * time.Millisecond,
		IsRetryable:   isRetryable,
	}
}

type Retrier struct {
	config *Config
}

func NewRetrier(config *Config) *Retrier {
	return &Retrier{
		config: config,
	}
}

func NewDefaultRetrier() *Retrier {
	return NewRetrier(NewDefaultConfig())
}

// Do runs op until it succeeds, returns a non-retryable error,
// exhausts MaxRetries or ctx is done.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	var err error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if r.config.IsRetryable != nil && !r.config.IsRetryable(err) {
			return err
		}

		if attempt == r.config.MaxRetries {
			return err
		}

		nextDelay := delay + r.jitter()
		if nextDelay > r.config.MaxDelay {
			nextDelay = r.config.MaxDelay
		}

		timer := time.NewTimer(nextDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}
	return err
}

func (r *Retrier) jitter() time.Duration {
	if r.config.Jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * float64(r.config.Jitter))
}
