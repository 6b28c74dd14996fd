// Package postgres implements the job store and the history store on
// PostgreSQL using pgx/v5 with raw SQL.
//
// Every unit of work runs in one READ COMMITTED transaction. Updates and
// deletes match on the row revision, so a writer that lost a race affects
// zero rows. With WithLockTimeout set, a write that would wait on a row
// held by another open transaction gives up after the timeout and also
// reports zero rows, instead of blocking until that transaction ends.
//
// History rows are written through the job transaction, atomically with
// the job change that produced them. Schema migrations are embedded SQL.
package postgres
