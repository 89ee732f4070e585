package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultStallRetries is how many extra attempts a stalled call gets before
// the fault is surfaced.
const DefaultStallRetries = 3

// WithStallRetry wraps an agent so transient stalls are retried with
// exponential backoff. Any other error, and the agent's answer itself,
// pass through untouched.
func WithStallRetry(inner Agent, maxRetries uint64) Agent {
	if maxRetries == 0 {
		maxRetries = DefaultStallRetries
	}
	return &retryAgent{inner: inner, maxRetries: maxRetries, newBackOff: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second
	return bo
}

type retryAgent struct {
	inner      Agent
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func (r *retryAgent) Name() string { return r.inner.Name() }

func (r *retryAgent) Execute(ctx context.Context, req Request, emit func(Message)) (Result, error) {
	var res Result
	bo := r.newBackOff()

	op := func() error {
		var err error
		res, err = r.inner.Execute(ctx, req, emit)
		if err == nil {
			return nil
		}
		var stall *StallError
		if errors.As(err, &stall) {
			slog.Warn("agent stalled, retrying", "agent", r.inner.Name(), "err", err)
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx))
	return res, err
}
