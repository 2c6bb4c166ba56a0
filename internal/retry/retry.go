// Package retry runs one unit of item work with bounded, linearly spaced
// retries.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/JakeFAU/judgment-crawler/internal/metrics"
	retrygo "github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// Outcome is the final state of a retried unit of work.
type Outcome int

// Outcomes returned by Run.
const (
	// Success means one attempt returned no error.
	Success Outcome = iota
	// Exhausted means every allowed attempt failed transiently.
	Exhausted
	// Aborted means an attempt failed with a fatal or unprocessable error.
	Aborted
	// Canceled means the context ended before the work succeeded.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Exhausted:
		return "exhausted"
	case Aborted:
		return "aborted"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Work is one attempt at an item. attempt starts at 1.
type Work[T any] func(ctx context.Context, attempt int) (T, error)

// Result reports how a unit of work ended.
type Result[T any] struct {
	Outcome  Outcome
	Value    T
	Attempts int
	// Err is the last attempt's error, or the context error when canceled.
	Err error
}

// Config controls the retry bound and spacing.
type Config struct {
	// MaxAttempts is the total number of calls allowed, first call included.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number to get the wait after a
	// failed attempt.
	BaseDelay time.Duration
}

// Timer abstracts waiting so tests can observe delays without sleeping.
type Timer = retrygo.Timer

// Controller executes work under the configured retry policy.
type Controller struct {
	cfg    Config
	timer  Timer
	logger *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithTimer replaces the wall-clock timer.
func WithTimer(t Timer) Option {
	return func(c *Controller) { c.timer = t }
}

// New creates a controller. MaxAttempts below 1 is treated as 1.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run calls work until it succeeds, fails fatally, runs out of attempts or
// ctx ends. After failed attempt k it waits k × BaseDelay. Errors that are
// not classified count as transient.
func Run[T any](ctx context.Context, c *Controller, key crawler.ItemKey, work Work[T]) Result[T] {
	var (
		res       Result[T]
		lastErr   error
		fatal     bool
		succeeded bool
	)

	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(uint(c.cfg.MaxAttempts)),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(_ uint, _ error, _ *retrygo.Config) time.Duration {
			return time.Duration(res.Attempts) * c.cfg.BaseDelay
		}),
		retrygo.OnRetry(func(_ uint, err error) {
			c.logger.Warn("item attempt failed, retrying",
				zap.String("case_number", key.CaseNumber),
				zap.Int("page", int(key.Page)),
				zap.Int("attempt", res.Attempts),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.Duration("delay", time.Duration(res.Attempts)*c.cfg.BaseDelay),
				zap.Error(err))
		}),
	}
	if c.timer != nil {
		opts = append(opts, retrygo.WithTimer(c.timer))
	}

	value, _ := retrygo.DoWithData(func() (T, error) {
		if err := ctx.Err(); err != nil {
			return *new(T), retrygo.Unrecoverable(err)
		}
		res.Attempts++
		v, err := work(ctx, res.Attempts)
		if err == nil {
			succeeded = true
			metrics.ObserveAttempt("success")
			return v, nil
		}
		lastErr = err
		if crawler.IsFatal(err) {
			fatal = true
			metrics.ObserveAttempt("fatal")
			return v, retrygo.Unrecoverable(err)
		}
		metrics.ObserveAttempt("transient")
		return v, err
	}, opts...)

	// The outcome comes from what the work reported, not from how retry-go
	// wraps its return value.
	switch {
	case succeeded:
		res.Outcome = Success
		res.Value = value
	case fatal:
		res.Outcome = Aborted
		res.Err = lastErr
	case ctx.Err() != nil:
		res.Outcome = Canceled
		res.Err = errors.Join(ctx.Err(), lastErr)
	default:
		res.Outcome = Exhausted
		res.Err = lastErr
	}
	return res
}
