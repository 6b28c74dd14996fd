package uow

import "context"

// CloseListener observes the close sequence of a unit of work. Closing runs
// before sessions are flushed; Closed runs only after a successful commit.
type CloseListener interface {
	Closing(ctx context.Context, u *UnitOfWork) error
	Closed(ctx context.Context, u *UnitOfWork) error
}

// CloseFailureListener is optionally implemented by a CloseListener that
// wants to hear about a rolled-back unit.
type CloseFailureListener interface {
	CloseFailure(ctx context.Context, u *UnitOfWork, err error)
}

// ListenerFuncs adapts plain functions into a CloseListener. Nil fields are
// skipped.
type ListenerFuncs struct {
	OnClosing      func(ctx context.Context, u *UnitOfWork) error
	OnClosed       func(ctx context.Context, u *UnitOfWork) error
	OnCloseFailure func(ctx context.Context, u *UnitOfWork, err error)
}

// Closing implements CloseListener.
func (l ListenerFuncs) Closing(ctx context.Context, u *UnitOfWork) error {
	if l.OnClosing == nil {
		return nil
	}
	return l.OnClosing(ctx, u)
}

// Closed implements CloseListener.
func (l ListenerFuncs) Closed(ctx context.Context, u *UnitOfWork) error {
	if l.OnClosed == nil {
		return nil
	}
	return l.OnClosed(ctx, u)
}

// CloseFailure implements CloseFailureListener.
func (l ListenerFuncs) CloseFailure(ctx context.Context, u *UnitOfWork, err error) {
	if l.OnCloseFailure != nil {
		l.OnCloseFailure(ctx, u, err)
	}
}
