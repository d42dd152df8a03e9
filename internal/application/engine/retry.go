package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// newBackOff doubles the delay from RetryBase on every attempt, without
// jitter, for at most MaxRetries retries.
func (e *Engine) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = e.cfg.RetryBase << uint(e.cfg.MaxRetries)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries)), ctx)
}

// permanent reports whether err must not be retried. Only errors not
// classified otherwise are assumed transient.
func permanent(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindFatal, domain.KindCorrupt, domain.KindDrift:
		return true
	}
	return false
}

// retry runs fn through the backoff policy. Fatal errors return at once.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, e.newBackOff(ctx), func(err error, wait time.Duration) {
		slog.Warn("engine: transient error, retrying",
			"pair", e.cfg.Pair.Symbol,
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"err", err,
		)
	})
}

// retryValue is retry for calls that return a value.
func retryValue[T any](ctx context.Context, e *Engine, op string, fn func() (T, error)) (T, error) {
	var out T
	err := e.retry(ctx, op, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
