package uow

import "context"

type ctxKey struct{}

// WithUnitOfWork binds u to the returned context. The binding lives exactly
// as long as the derived context is passed down the call chain.
func WithUnitOfWork(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the unit of work bound to ctx, or nil.
func FromContext(ctx context.Context) *UnitOfWork {
	u, _ := ctx.Value(ctxKey{}).(*UnitOfWork)
	return u
}
