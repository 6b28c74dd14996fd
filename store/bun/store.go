package bunstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/flowcore/history"
)

// Ensure Store implements history.Store at compile time.
var _ history.Store = (*Store)(nil)

// Store is a Bun ORM implementation of history.Store.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store. The caller owns the db lifecycle; the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates the history table and its indexes from the model.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*recordModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flowcore/bun: create history table: %w", err)
	}

	indexes := []struct {
		name    string
		columns []string
	}{
		{"idx_flowcore_job_history_job", []string{"job_id", "recorded_at"}},
		{"idx_flowcore_job_history_instance", []string{"process_instance_id", "recorded_at"}},
	}
	for _, idx := range indexes {
		_, err := s.db.NewCreateIndex().
			Model((*recordModel)(nil)).
			Index(idx.name).
			IfNotExists().
			Column(idx.columns...).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("flowcore/bun: create index %s: %w", idx.name, err)
		}
	}

	s.logger.Debug("history schema ready", slog.String("table", "flowcore_job_history"))
	return nil
}

// InsertRecords persists records in one statement.
func (s *Store) InsertRecords(ctx context.Context, records []*history.Record) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]*recordModel, len(records))
	for i, r := range records {
		models[i] = toRecordModel(r)
	}
	if _, err := s.db.NewInsert().Model(&models).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("flowcore/bun: insert history: duplicate record id: %w", err)
		}
		return fmt.Errorf("flowcore/bun: insert history: %w", err)
	}
	return nil
}

// ListRecords returns records matching q, oldest first.
func (s *Store) ListRecords(ctx context.Context, q history.Query) ([]*history.Record, error) {
	var models []recordModel
	sel := s.db.NewSelect().Model(&models)
	if !q.JobID.IsNil() {
		sel = sel.Where("job_id = ?", q.JobID.String())
	}
	if q.ProcessInstanceID != "" {
		sel = sel.Where("process_instance_id = ?", q.ProcessInstanceID)
	}
	if q.Outcome != "" {
		sel = sel.Where("outcome = ?", string(q.Outcome))
	}
	sel = sel.OrderExpr("recorded_at ASC, id ASC")
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}

	if err := sel.Scan(ctx); err != nil {
		return nil, fmt.Errorf("flowcore/bun: list history: %w", err)
	}

	records := make([]*history.Record, 0, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}
