// Command flowcore-worker runs one flowcore engine node against a
// PostgreSQL job store. Nodes sharing a database compete for jobs; with
// -redis-addr set they also wake each other when jobs are committed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/engine"
	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/notify"
	"github.com/xraph/flowcore/store/postgres"
	"github.com/xraph/flowcore/uow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "flowcore-worker: %v\n", err)
		os.Exit(1)
	}
}

type workerFlags struct {
	configPath  string
	postgresDSN string
	redisAddr   string
	lockTimeout time.Duration
	migrate     bool
	logLevel    string
}

func parseFlags(args []string) (workerFlags, error) {
	var f workerFlags
	fs := flag.NewFlagSet("flowcore-worker", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", getenv("FLOWCORE_CONFIG", ""), "path to a YAML config file")
	fs.StringVar(&f.postgresDSN, "postgres-dsn", getenv("FLOWCORE_POSTGRES_DSN", ""), "PostgreSQL connection string")
	fs.StringVar(&f.redisAddr, "redis-addr", getenv("FLOWCORE_REDIS_ADDR", ""), "Redis address for cross-node wake-ups")
	fs.DurationVar(&f.lockTimeout, "lock-timeout", 0, "give up on rows held by other transactions after this long")
	fs.BoolVar(&f.migrate, "migrate", true, "apply schema migrations on start")
	fs.StringVar(&f.logLevel, "log-level", getenv("FLOWCORE_LOG_LEVEL", "info"), "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.postgresDSN == "" {
		return f, errors.New("-postgres-dsn or FLOWCORE_POSTGRES_DSN is required")
	}
	return f, nil
}

func loadConfig(path string) (flowcore.Config, error) {
	if path == "" {
		cfg := flowcore.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return flowcore.LoadConfig(path)
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// logConfig is the handler configuration of "flowcore.log" jobs.
type logConfig struct {
	Message string `json:"message"`
}

// builtinHandlers are available on every node. Applications embedding the
// engine register their own through engine.WithHandlers.
func builtinHandlers(logger *slog.Logger) []job.Handler {
	return []job.Handler{
		job.Define("flowcore.log", func(_ context.Context, _ *uow.UnitOfWork, j *job.Job, cfg logConfig) error {
			logger.Info(cfg.Message,
				slog.String("job_id", j.ID.String()),
				slog.String("process_instance_id", j.ProcessInstanceID),
			)
			return nil
		}),
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, flags.logLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	store, err := postgres.New(ctx, flags.postgresDSN,
		postgres.WithLogger(logger),
		postgres.WithLockTimeout(flags.lockTimeout),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	if flags.migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	opts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithHandlers(builtinHandlers(logger)...),
	}
	if flags.redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: flags.redisAddr})
		defer client.Close()
		opts = append(opts, engine.WithNotifier(
			notify.NewRedis(client, cfg.LockOwner, notify.WithLogger(logger)),
		))
	}

	eng, err := engine.New(store, opts...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	// The signal context is done; shutdown gets its own deadline.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancel()
	return eng.Stop(stopCtx)
}

func getenv(name, fallback string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	return v
}
