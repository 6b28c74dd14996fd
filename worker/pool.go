package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/acquisition"
)

// Runner executes one acquired group.
type Runner interface {
	RunGroup(ctx context.Context, g acquisition.Group)
}

// PoolStats is a point-in-time view of a Pool.
type PoolStats struct {
	Workers int
	Active  int
	Queued  int
}

// Pool runs job groups on a bounded set of worker goroutines.
type Pool struct {
	runner    Runner
	logger    *slog.Logger
	core      int
	max       int
	queueSize int
	keepAlive time.Duration

	mu      sync.Mutex
	running bool
	workers int
	queue   chan acquisition.Group
	stopCh  chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	ctx     context.Context

	active atomic.Int64
}

var _ acquisition.Submitter = (*Pool)(nil)

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConfig copies the pool settings of cfg.
func WithPoolConfig(cfg flowcore.Config) PoolOption {
	return func(p *Pool) {
		p.core = cfg.CorePoolSize
		p.max = cfg.MaxPoolSize
		p.queueSize = cfg.QueueSize
		p.keepAlive = cfg.KeepAlive
	}
}

// WithPoolSize sets the core and maximum number of workers.
func WithPoolSize(core, maxWorkers int) PoolOption {
	return func(p *Pool) { p.core, p.max = core, maxWorkers }
}

// WithQueueSize sets how many groups wait for a worker.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) { p.queueSize = n }
}

// WithKeepAlive sets how long a worker above the core size idles before
// exiting.
func WithKeepAlive(d time.Duration) PoolOption {
	return func(p *Pool) { p.keepAlive = d }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool running groups through runner.
func NewPool(runner Runner, opts ...PoolOption) *Pool {
	p := &Pool{runner: runner, logger: slog.Default()}
	WithPoolConfig(flowcore.DefaultConfig())(p)
	for _, opt := range opts {
		opt(p)
	}
	p.core = max(p.core, 1)
	p.max = max(p.max, p.core)
	p.queueSize = max(p.queueSize, 0)
	return p
}

// Start launches the core workers. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.queue = make(chan acquisition.Group, p.queueSize)
	p.stopCh = make(chan struct{})
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.logger.Info("execution pool starting",
		slog.Int("core_pool_size", p.core),
		slog.Int("max_pool_size", p.max),
		slog.Int("queue_size", p.queueSize),
	)

	for range p.core {
		p.spawn(nil, true)
	}
	return nil
}

// Submit queues g for execution. When the queue is full an extra worker
// takes g directly, up to the maximum pool size; beyond that Submit
// returns flowcore.ErrPoolFull.
func (p *Pool) Submit(g acquisition.Group) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return flowcore.ErrPoolClosed
	}
	select {
	case p.queue <- g:
		return nil
	default:
	}
	if p.workers >= p.max {
		return flowcore.ErrPoolFull
	}
	p.spawn(&g, false)
	return nil
}

// Stop signals all workers to stop and waits for the groups they are
// running. Queued groups are dropped; their leases expire and another
// acquisition picks them up. If ctx ends first, running jobs are
// cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	dropped := len(p.queue)
	p.mu.Unlock()

	p.logger.Info("execution pool stopping", slog.Int("dropped_groups", dropped))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("execution pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("execution pool shutdown timed out, cancelling active jobs",
			slog.Int64("active", p.active.Load()),
		)
		p.cancel()
		<-done
	}
	p.cancel()
	return nil
}

// Stats returns the current worker, active and queued counts.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	queued := 0
	if p.queue != nil {
		queued = len(p.queue)
	}
	return PoolStats{Workers: p.workers, Active: int(p.active.Load()), Queued: queued}
}

// spawn starts a worker. Callers hold p.mu.
func (p *Pool) spawn(first *acquisition.Group, core bool) {
	p.workers++
	p.wg.Add(1)
	go p.work(p.ctx, p.queue, p.stopCh, first, core)
}

func (p *Pool) work(ctx context.Context, queue <-chan acquisition.Group, stop <-chan struct{}, first *acquisition.Group, core bool) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()

	if first != nil {
		p.run(ctx, *first)
	}

	var idle <-chan time.Time
	for {
		select {
		case <-stop:
			return
		default:
		}

		var t *time.Timer
		if !core {
			t = time.NewTimer(p.keepAlive)
			idle = t.C
		}
		select {
		case <-stop:
			stopTimer(t)
			return
		case g := <-queue:
			stopTimer(t)
			p.run(ctx, g)
		case <-idle:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, g acquisition.Group) {
	p.active.Add(1)
	defer p.active.Add(-1)
	p.runner.RunGroup(ctx, g)
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
