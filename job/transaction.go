package job

import (
	"context"
	"fmt"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/uow"
)

// Transaction is the unit-of-work transaction over a job Store. The store
// transaction begins on first use, so units that never touch jobs cost
// nothing.
type Transaction struct {
	store Store
	tx    Tx
}

// NewTransaction returns a lazily begun transaction on store.
func NewTransaction(store Store) *Transaction {
	return &Transaction{store: store}
}

// TransactionFactory returns a uow.TransactionFactory over store.
func TransactionFactory(store Store) uow.TransactionFactory {
	return func(context.Context) uow.Transaction { return NewTransaction(store) }
}

// Tx returns the store transaction, beginning it if needed.
func (t *Transaction) Tx(ctx context.Context) (Tx, error) {
	if t.tx != nil {
		return t.tx, nil
	}
	if t.store == nil {
		return nil, flowcore.ErrNoStore
	}
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("job: begin: %w", err)
	}
	t.tx = tx
	return tx, nil
}

// Begun reports whether the store transaction was started.
func (t *Transaction) Begun() bool { return t.tx != nil }

// Commit commits the store transaction, if begun.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.tx == nil {
		return nil
	}
	return t.tx.Commit(ctx)
}

// Rollback rolls the store transaction back, if begun.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.tx == nil {
		return nil
	}
	return t.tx.Rollback(ctx)
}

// TxOf returns the job store transaction of u. A unit whose transaction is
// not a job Transaction is a configuration error.
func TxOf(ctx context.Context, u *uow.UnitOfWork) (Tx, error) {
	if u == nil {
		return nil, flowcore.Configurationf("no unit of work bound")
	}
	t, ok := u.Transaction().(*Transaction)
	if !ok {
		return nil, flowcore.Configurationf("unit of work %s has no job store transaction", u.Name())
	}
	return t.Tx(ctx)
}
