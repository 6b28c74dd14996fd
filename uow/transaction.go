package uow

import "context"

// Transaction is the external transactional resource a unit of work
// commits or rolls back when it closes. The unit never attempts both.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionFactory creates the transaction for a fresh unit of work.
// Implementations should begin lazily so read-free units cost nothing.
type TransactionFactory func(ctx context.Context) Transaction

// NoTransaction commits and rolls back nothing.
type NoTransaction struct{}

// Commit does nothing.
func (NoTransaction) Commit(context.Context) error { return nil }

// Rollback does nothing.
func (NoTransaction) Rollback(context.Context) error { return nil }
