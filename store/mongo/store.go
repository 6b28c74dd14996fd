package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/flowcore/history"
)

const colHistory = "flowcore_job_history"

// Ensure Store implements history.Store at compile time.
var _ history.Store = (*Store)(nil)

// Store is a MongoDB implementation of history.Store.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
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

// New creates a new MongoDB history store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

func (s *Store) collection() *mongod.Collection {
	return s.db.Collection(colHistory)
}

// Migrate creates the history indexes. Creating an existing index is a
// no-op in MongoDB.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.collection().Indexes().CreateMany(ctx, []mongod.IndexModel{
		{Keys: bson.D{
			{Key: "job_id", Value: 1},
			{Key: "recorded_at", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "process_instance_id", Value: 1},
			{Key: "recorded_at", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "outcome", Value: 1},
			{Key: "recorded_at", Value: 1},
		}},
	})
	if err != nil {
		return fmt.Errorf("flowcore/mongo: migrate %s indexes: %w", colHistory, err)
	}
	return nil
}

// InsertRecords persists records with a single InsertMany.
func (s *Store) InsertRecords(ctx context.Context, records []*history.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = toRecordDoc(r)
	}
	if _, err := s.collection().InsertMany(ctx, docs); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("flowcore/mongo: insert history: duplicate record id: %w", err)
		}
		return fmt.Errorf("flowcore/mongo: insert history: %w", err)
	}
	return nil
}

// ListRecords returns records matching q, oldest first.
func (s *Store) ListRecords(ctx context.Context, q history.Query) ([]*history.Record, error) {
	filter := bson.M{}
	if !q.JobID.IsNil() {
		filter["job_id"] = q.JobID.String()
	}
	if q.ProcessInstanceID != "" {
		filter["process_instance_id"] = q.ProcessInstanceID
	}
	if q.Outcome != "" {
		filter["outcome"] = string(q.Outcome)
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "recorded_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("flowcore/mongo: list history: %w", err)
	}
	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("flowcore/mongo: decode history: %w", err)
	}

	records := make([]*history.Record, 0, len(docs))
	for i := range docs {
		r, err := fromRecordDoc(&docs[i])
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}
