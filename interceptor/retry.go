package interceptor

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/backoff"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/uow"
)

// RetryInterceptor re-runs a command whose unit of work lost an
// optimistic-lock race. Nothing was committed in that case, so the whole
// command can run again in a fresh unit. Commands that join an enclosing
// unit are never retried here; the enclosing command is.
type RetryInterceptor struct {
	command.Base
	attempts int
	strategy backoff.Strategy
	logger   *slog.Logger
}

// Retry returns an interceptor that retries up to attempts times, waiting
// an exponentially growing delay starting at wait.
func Retry(attempts int, wait time.Duration, logger *slog.Logger) *RetryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryInterceptor{
		attempts: attempts,
		strategy: backoff.NewExponential(wait, wait<<min(attempts, 16)),
		logger:   logger,
	}
}

// Execute implements command.Interceptor.
func (r *RetryInterceptor) Execute(ctx context.Context, cfg command.Config, cmd command.Any) (any, error) {
	if joins(ctx, cfg) {
		return r.Next().Execute(ctx, cfg, cmd)
	}

	for attempt := 1; ; attempt++ {
		out, err := r.Next().Execute(ctx, cfg, cmd)
		if err == nil || !flowcore.IsRetryable(err) || attempt > r.attempts {
			return out, err
		}

		delay := r.strategy.Delay(attempt)
		r.logger.Warn("command lost a concurrent update, retrying",
			slog.String("command", cmd.Name()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// joins reports whether a command run with cfg joins the unit bound to ctx.
func joins(ctx context.Context, cfg command.Config) bool {
	u := uow.FromContext(ctx)
	return u != nil && cfg.JoinsEnclosing() && u.Reusable()
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
