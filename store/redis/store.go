package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRetention expires record hashes after d. Index entries pointing at
// expired records are pruned lazily when listed. Zero keeps records forever.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// Store implements history.Store backed by Redis.
type Store struct {
	client    goredis.Cmdable
	logger    *slog.Logger
	retention time.Duration
}

// New creates a new Redis-backed history store. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// InsertRecords stores every record and its index entries in one
// MULTI/EXEC block.
func (s *Store) InsertRecords(ctx context.Context, records []*history.Record) error {
	if len(records) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, r := range records {
		rID := r.ID.String()
		key := recordKey(rID)
		z := goredis.Z{Score: score(r.RecordedAt), Member: rID}

		pipe.HSet(ctx, key, recordToMap(r))
		if s.retention > 0 {
			pipe.Expire(ctx, key, s.retention)
		}
		pipe.ZAdd(ctx, allRecordsKey, z)
		pipe.ZAdd(ctx, jobRecordsKey(r.JobID.String()), z)
		pipe.ZAdd(ctx, outcomeRecordsKey(string(r.Outcome)), z)
		if r.ProcessInstanceID != "" {
			pipe.ZAdd(ctx, instanceRecordsKey(r.ProcessInstanceID), z)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flowcore/redis: insert history: %w", err)
	}
	return nil
}

// ListRecords returns records matching q, oldest first. The narrowest
// index the query names is scanned; remaining filters apply in memory.
func (s *Store) ListRecords(ctx context.Context, q history.Query) ([]*history.Record, error) {
	index := allRecordsKey
	switch {
	case !q.JobID.IsNil():
		index = jobRecordsKey(q.JobID.String())
	case q.ProcessInstanceID != "":
		index = instanceRecordsKey(q.ProcessInstanceID)
	case q.Outcome != "":
		index = outcomeRecordsKey(string(q.Outcome))
	}

	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("flowcore/redis: list history index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, rID := range ids {
		cmds[i] = pipe.HGetAll(ctx, recordKey(rID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("flowcore/redis: load history: %w", err)
	}

	var (
		records []*history.Record
		expired []any
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			expired = append(expired, ids[i])
			continue
		}
		r, convErr := mapToRecord(fields)
		if convErr != nil {
			return nil, convErr
		}
		if !q.Matches(r) {
			continue
		}
		records = append(records, r)
		if q.Limit > 0 && len(records) == q.Limit {
			break
		}
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, index, expired...).Err(); err != nil {
			s.logger.Warn("prune expired history index entries",
				slog.String("index", index),
				slog.String("error", err.Error()),
			)
		}
	}
	return records, nil
}

// score orders records by recording time at microsecond precision, which
// a float64 holds exactly.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func recordToMap(r *history.Record) map[string]any {
	return map[string]any{
		"id":                  r.ID.String(),
		"job_id":              r.JobID.String(),
		"job_type":            r.JobType,
		"process_instance_id": r.ProcessInstanceID,
		"execution_id":        r.ExecutionID,
		"tenant_id":           r.TenantID,
		"outcome":             string(r.Outcome),
		"message":             r.Message,
		"lock_owner":          r.LockOwner,
		"attempt":             r.Attempt,
		"duration_ns":         r.Duration.Nanoseconds(),
		"recorded_at":         r.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapToRecord(m map[string]string) (*history.Record, error) {
	recID, err := id.ParseHistoryID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("flowcore/redis: parse history id %q: %w", m["id"], err)
	}
	jobID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("flowcore/redis: parse job id %q: %w", m["job_id"], err)
	}
	attempt, err := strconv.Atoi(m["attempt"])
	if err != nil {
		return nil, fmt.Errorf("flowcore/redis: parse attempt: %w", err)
	}
	durationNS, err := strconv.ParseInt(m["duration_ns"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("flowcore/redis: parse duration: %w", err)
	}
	recordedAt, err := time.Parse(time.RFC3339Nano, m["recorded_at"])
	if err != nil {
		return nil, fmt.Errorf("flowcore/redis: parse recorded_at: %w", err)
	}

	return &history.Record{
		ID:                recID,
		JobID:             jobID,
		JobType:           m["job_type"],
		ProcessInstanceID: m["process_instance_id"],
		ExecutionID:       m["execution_id"],
		TenantID:          m["tenant_id"],
		Outcome:           history.Outcome(m["outcome"]),
		Message:           m["message"],
		LockOwner:         m["lock_owner"],
		Attempt:           attempt,
		Duration:          time.Duration(durationNS),
		RecordedAt:        recordedAt.UTC(),
	}, nil
}
