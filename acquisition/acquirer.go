package acquisition

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/ext"
)

// Submitter accepts acquired groups for execution. Submit returns
// flowcore.ErrPoolFull when the group cannot be taken right now.
type Submitter interface {
	Submit(g Group) error
}

// Acquirer runs the acquisition loop of one engine node.
type Acquirer struct {
	pipeline   *command.Pipeline
	submitter  Submitter
	extensions *ext.Registry
	logger     *slog.Logger

	owner          string
	lease          time.Duration
	maxJobs        int
	idleWait       time.Duration
	queueFullWait  time.Duration
	exclusiveDelay time.Duration
	limiter        *rate.Limiter
	wake           <-chan struct{}

	mu      sync.Mutex
	running bool
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithConfig copies the acquisition settings of cfg.
func WithConfig(cfg flowcore.Config) Option {
	return func(a *Acquirer) {
		a.owner = cfg.LockOwner
		a.lease = cfg.LockLease
		a.maxJobs = cfg.MaxJobsPerAcquisition
		a.idleWait = cfg.AcquisitionIdleWait
		a.queueFullWait = cfg.QueueFullWait
		a.exclusiveDelay = cfg.ExclusiveLockDelay
		if cfg.AcquisitionRate > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(cfg.AcquisitionRate), 1)
		}
	}
}

// WithWakeup sets the channel that cuts the idle back-off short.
func WithWakeup(ch <-chan struct{}) Option {
	return func(a *Acquirer) { a.wake = ch }
}

// WithExtensions sets the registry receiving acquisition events.
func WithExtensions(r *ext.Registry) Option {
	return func(a *Acquirer) { a.extensions = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Acquirer) { a.logger = l }
}

// NewAcquirer creates an acquisition loop running its commands through p
// and handing groups to s.
func NewAcquirer(p *command.Pipeline, s Submitter, opts ...Option) *Acquirer {
	a := &Acquirer{pipeline: p, submitter: s}
	WithConfig(flowcore.DefaultConfig())(a)
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.extensions == nil {
		a.extensions = ext.NewRegistry(a.logger)
	}
	return a
}

// Owner returns the lock owner used for every acquired job.
func (a *Acquirer) Owner() string { return a.owner }

// Run loops until ctx is cancelled. It returns nil on cancellation.
func (a *Acquirer) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return flowcore.Configurationf("acquirer %s is already running", a.owner)
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.logger.Info("job acquisition starting",
		slog.String("lock_owner", a.owner),
		slog.Int("max_jobs", a.maxJobs),
	)
	for {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		batch, err := a.AcquireOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error("job acquisition failed", slog.String("error", err.Error()))
			a.idle(ctx)
			continue
		}

		if err := a.Dispatch(ctx, batch.Groups); err != nil {
			return nil
		}

		if batch.Found < a.maxJobs {
			a.idle(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// AcquireOnce runs a single acquisition cycle.
func (a *Acquirer) AcquireOnce(ctx context.Context) (Batch, error) {
	start := time.Now()
	batch, err := command.Execute(ctx, a.pipeline, &AcquireCmd{
		Owner:          a.owner,
		Lease:          a.lease,
		Limit:          a.maxJobs,
		ExclusiveDelay: a.exclusiveDelay,
		Pipeline:       a.pipeline,
		Logger:         a.logger,
	})
	if err != nil {
		return Batch{}, err
	}

	a.extensions.EmitAcquisitionCycle(ctx, batch.Acquired(), time.Since(start))
	for _, j := range batch.Jobs() {
		a.extensions.EmitJobAcquired(ctx, j)
	}
	if n := batch.Acquired(); n > 0 {
		a.logger.Debug("jobs acquired",
			slog.Int("found", batch.Found),
			slog.Int("acquired", n),
			slog.Int("groups", len(batch.Groups)),
		)
	}
	return batch, nil
}

// Dispatch hands groups to the submitter in order. A full pool is waited
// out and the rejected group offered again; locked work is never dropped
// while ctx is live. It returns ctx's error on cancellation, leaving the
// remaining groups to lease expiry.
func (a *Acquirer) Dispatch(ctx context.Context, groups []Group) error {
	for i := 0; i < len(groups); {
		err := a.submitter.Submit(groups[i])
		switch {
		case err == nil:
			i++
			continue
		case errors.Is(err, flowcore.ErrPoolFull):
			a.logger.Debug("execution pool full, backing off",
				slog.Int("pending_groups", len(groups)-i),
				slog.Duration("wait", a.queueFullWait),
			)
		default:
			a.logger.Error("submit to execution pool failed",
				slog.Int("pending_groups", len(groups)-i),
				slog.String("error", err.Error()),
			)
		}
		if err := sleep(ctx, a.queueFullWait); err != nil {
			return err
		}
	}
	return nil
}

// idle waits out the idle back-off, returning early on a wake-up.
func (a *Acquirer) idle(ctx context.Context) {
	t := time.NewTimer(a.idleWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-a.wake:
	}
}
