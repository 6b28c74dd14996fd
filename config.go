package flowcore

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables consumed by the command pipeline, job
// acquisition and the execution pool. Durations are written as Go duration
// strings ("5s", "250ms") in YAML.
type Config struct {
	// LockOwner identifies this engine node in job lock columns. It must be
	// unique across every node sharing a job store.
	LockOwner string `yaml:"lock_owner"`

	// LockLease is how long an acquired job stays locked. A crashed worker
	// blocks re-acquisition for at most this long.
	LockLease time.Duration `yaml:"lock_lease"`

	// MaxJobsPerAcquisition caps the due-job query of one acquisition cycle.
	MaxJobsPerAcquisition int `yaml:"max_jobs_per_acquisition"`

	// AcquisitionIdleWait is the back-off after a cycle that found fewer
	// jobs than MaxJobsPerAcquisition. A notification cuts it short.
	AcquisitionIdleWait time.Duration `yaml:"acquisition_idle_wait"`

	// QueueFullWait is the back-off when the execution pool rejects work.
	QueueFullWait time.Duration `yaml:"queue_full_wait"`

	// ExclusiveLockDelay lets just-inserted sibling jobs of an exclusive
	// process instance settle before they are locked together.
	ExclusiveLockDelay time.Duration `yaml:"exclusive_lock_delay"`

	// AcquisitionRate limits acquisition queries per second. Zero disables it.
	AcquisitionRate float64 `yaml:"acquisition_rate"`

	// DefaultRetries is the retry budget given to new jobs.
	DefaultRetries int `yaml:"default_retries"`

	// MaxAttempts caps the failures a job may record without consuming a
	// retry. Lost optimistic-lock races are free until a job has failed
	// MaxAttempts times; after that every failure consumes a retry. Zero
	// removes the cap.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff configures how far a failed job's due date is pushed.
	RetryBackoff BackoffConfig `yaml:"retry_backoff"`

	// CommandRetries is how often a command that lost an optimistic-lock
	// race is re-executed before the failure surfaces. Zero disables it.
	CommandRetries int `yaml:"command_retries"`

	// CommandRetryWait is the first wait between command retries; it
	// doubles each attempt.
	CommandRetryWait time.Duration `yaml:"command_retry_wait"`

	// CorePoolSize workers are always running.
	CorePoolSize int `yaml:"core_pool_size"`

	// MaxPoolSize bounds the workers spawned when the queue is full.
	MaxPoolSize int `yaml:"max_pool_size"`

	// QueueSize is the capacity of the hand-off queue between acquisition
	// and the workers, counted in job groups.
	QueueSize int `yaml:"queue_size"`

	// KeepAlive is how long a worker above CorePoolSize idles before exiting.
	KeepAlive time.Duration `yaml:"keep_alive"`

	// ShutdownTimeout bounds graceful shutdown of the pool.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// InsertBatchSize caps the jobs written by one batch insert when a unit
	// of work flushes.
	InsertBatchSize int `yaml:"insert_batch_size"`

	// HistoryEnabled writes a history record for every completed or
	// failed job execution.
	HistoryEnabled bool `yaml:"history_enabled"`
}

// BackoffConfig selects a backoff strategy by name.
type BackoffConfig struct {
	// Strategy is one of "constant", "linear", "exponential", "jitter".
	Strategy string        `yaml:"strategy"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

// DefaultConfig returns a Config with sensible defaults. The lock owner is
// derived from the host name plus a random UUID.
func DefaultConfig() Config {
	return Config{
		LockOwner:             DefaultLockOwner(),
		LockLease:             5 * time.Minute,
		MaxJobsPerAcquisition: 3,
		AcquisitionIdleWait:   5 * time.Second,
		QueueFullWait:         5 * time.Second,
		ExclusiveLockDelay:    50 * time.Millisecond,
		DefaultRetries:        3,
		MaxAttempts:           10,
		RetryBackoff: BackoffConfig{
			Strategy: "constant",
			Initial:  10 * time.Second,
		},
		CommandRetries:   3,
		CommandRetryWait: 50 * time.Millisecond,
		CorePoolSize:     3,
		MaxPoolSize:      10,
		QueueSize:        3,
		KeepAlive:        5 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		InsertBatchSize:  50,
	}
}

// DefaultLockOwner returns "<hostname>-<uuid>".
func DefaultLockOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "flowcore"
	}
	return host + "-" + uuid.NewString()
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("flowcore: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("flowcore: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.LockOwner == "":
		return Configurationf("lock_owner must not be empty")
	case c.LockLease <= 0:
		return Configurationf("lock_lease must be positive")
	case c.MaxJobsPerAcquisition <= 0:
		return Configurationf("max_jobs_per_acquisition must be positive")
	case c.CorePoolSize <= 0:
		return Configurationf("core_pool_size must be positive")
	case c.MaxPoolSize < c.CorePoolSize:
		return Configurationf("max_pool_size %d is below core_pool_size %d", c.MaxPoolSize, c.CorePoolSize)
	case c.QueueSize < 0:
		return Configurationf("queue_size must not be negative")
	case c.InsertBatchSize < 0:
		return Configurationf("insert_batch_size must not be negative")
	case c.DefaultRetries < 1:
		// A job scheduled with no retries is dead on arrival.
		return Configurationf("default_retries must be at least 1")
	case c.MaxAttempts < 0:
		return Configurationf("max_attempts must not be negative")
	case c.ExclusiveLockDelay < 0 || c.ExclusiveLockDelay > time.Second:
		return Configurationf("exclusive_lock_delay must be between 0 and 1s")
	}
	switch c.RetryBackoff.Strategy {
	case "", "constant", "linear", "exponential", "jitter":
	default:
		return Configurationf("unknown retry_backoff strategy %q", c.RetryBackoff.Strategy)
	}
	return nil
}
