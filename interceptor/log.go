package interceptor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/command"
)

// LogInterceptor logs every command.
type LogInterceptor struct {
	command.Base
	logger *slog.Logger
}

// Log returns an interceptor that logs command start and completion.
func Log(logger *slog.Logger) *LogInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogInterceptor{logger: logger}
}

// Execute implements command.Interceptor.
func (l *LogInterceptor) Execute(ctx context.Context, cfg command.Config, cmd command.Any) (any, error) {
	l.logger.Debug("command started",
		slog.String("command", cmd.Name()),
		slog.String("propagation", cfg.Propagation().String()),
	)

	start := time.Now()
	out, err := l.Next().Execute(ctx, cfg, cmd)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.Log(ctx, failureLevel(err), "command failed",
			slog.String("command", cmd.Name()),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		l.logger.Debug("command completed",
			slog.String("command", cmd.Name()),
			slog.Duration("elapsed", elapsed),
		)
	}
	return out, err
}

// failureLevel logs races between nodes below real failures: a job leased
// elsewhere is routine, a lost optimistic lock that outlived its retries
// is worth a warning.
func failureLevel(err error) slog.Level {
	switch {
	case errors.Is(err, flowcore.ErrJobLocked):
		return slog.LevelDebug
	case errors.Is(err, flowcore.ErrConcurrentUpdate):
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
