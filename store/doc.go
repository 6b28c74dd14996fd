// Package store defines the composite persistence interface.
//
// The job and history packages each define their own store contract. A
// backend that implements both satisfies [Store] and can be handed to the
// engine as a single value:
//
//	type Store interface {
//	    flowcore.Storer
//	    job.Store
//	    history.Store
//	}
//
// # Available Backends
//
//   - store/memory: in-process, for tests and single-node development
//   - store/postgres: pgx/v5, jobs and history in one transaction
//
// History-only backends, used with a separate job store:
//
//   - store/bun: bun ORM over PostgreSQL
//   - store/mongo: MongoDB collection
//   - store/redis: Redis sorted set per query dimension
package store
