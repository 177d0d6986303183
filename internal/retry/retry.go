// Package retry runs calls under an explicit backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Class is the retry decision for an error.
type Class int

const (
	// Transient errors are retried with backoff.
	Transient Class = iota
	// Fatal errors stop immediately.
	Fatal
)

func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "transient"
}

// Classifier decides whether err is worth another attempt.
type Classifier func(err error) Class

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy configures Retrier.
type Policy struct {
	MaxAttempts  int // total attempts including the first
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	Classify     Classifier
	Sleep        Sleeper
	OnRetry      func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy mirrors the agent defaults: ten attempts, 10s growing by
// 1.5x up to a minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 10 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.5,
	}
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// FatalError wraps an error the classifier refused to retry.
type FatalError struct {
	Attempt int
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("non-retryable failure on attempt %d: %v", e.Attempt, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Retrier executes functions under a Policy.
type Retrier struct {
	policy Policy
	logger *zap.Logger
}

// New validates p, filling zero fields with defaults.
func New(p Policy, logger *zap.Logger) *Retrier {
	def := DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 1.0
	}
	if p.Classify == nil {
		p.Classify = func(error) Class { return Transient }
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{policy: p, logger: logger}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (r *Retrier) Delay(attempt int) time.Duration {
	p := r.policy
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, fails fatally, attempts run out or ctx is
// done. The returned error is nil, a *FatalError, an *ExhaustedError or the
// context error.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the value-returning form of Retrier.Do.
func Do[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	p := r.policy

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.Delay(attempt - 1)
			r.logger.Warn("Retrying after transient failure",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}
			if err := p.Sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Retry succeeded", zap.Int("attempt", attempt))
			}
			return v, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, err
		}
		if p.Classify(err) == Fatal {
			r.logger.Error("Non-retryable failure", zap.Int("attempt", attempt), zap.Error(err))
			return zero, &FatalError{Attempt: attempt, Err: err}
		}
	}

	r.logger.Error("Retry attempts exhausted", zap.Int("attempts", p.MaxAttempts), zap.Error(lastErr))
	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}
