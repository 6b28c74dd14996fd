package uow

import (
	"context"

	"github.com/xraph/flowcore"
)

// SessionKind names one category of persisted state. A unit of work holds
// at most one open session per kind.
type SessionKind string

// Session stages changes for one category of persisted state until the unit
// of work flushes it, and releases its resources on Close.
type Session interface {
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// SessionFactory opens the session of its kind for a unit of work.
type SessionFactory interface {
	Kind() SessionKind
	Open(ctx context.Context, u *UnitOfWork) (Session, error)
}

type sessionFactoryFunc struct {
	kind SessionKind
	open func(ctx context.Context, u *UnitOfWork) (Session, error)
}

func (f sessionFactoryFunc) Kind() SessionKind { return f.kind }

func (f sessionFactoryFunc) Open(ctx context.Context, u *UnitOfWork) (Session, error) {
	return f.open(ctx, u)
}

// NewSessionFactory adapts an open function into a SessionFactory.
func NewSessionFactory(kind SessionKind, open func(ctx context.Context, u *UnitOfWork) (Session, error)) SessionFactory {
	return sessionFactoryFunc{kind: kind, open: open}
}

// SessionFactories is the immutable registry of session factories, built
// once at engine construction and shared by every unit of work.
type SessionFactories struct {
	byKind map[SessionKind]SessionFactory
	kinds  []SessionKind
}

// NewSessionFactories builds a registry. Registering two factories for the
// same kind is a configuration error.
func NewSessionFactories(factories ...SessionFactory) (*SessionFactories, error) {
	return (&SessionFactories{}).With(factories...)
}

// With returns a new registry holding r's factories plus the given ones.
// r itself is left untouched.
func (r *SessionFactories) With(factories ...SessionFactory) (*SessionFactories, error) {
	next := &SessionFactories{
		byKind: make(map[SessionKind]SessionFactory, len(r.kinds)+len(factories)),
		kinds:  make([]SessionKind, 0, len(r.kinds)+len(factories)),
	}
	for _, k := range r.kinds {
		next.byKind[k] = r.byKind[k]
		next.kinds = append(next.kinds, k)
	}
	for _, f := range factories {
		if f == nil {
			return nil, flowcore.Configurationf("nil session factory")
		}
		if _, dup := next.byKind[f.Kind()]; dup {
			return nil, flowcore.Configurationf("duplicate session factory for kind %q", f.Kind())
		}
		next.byKind[f.Kind()] = f
		next.kinds = append(next.kinds, f.Kind())
	}
	return next, nil
}

// Get returns the factory registered for kind.
func (r *SessionFactories) Get(kind SessionKind) (SessionFactory, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.byKind[kind]
	return f, ok
}

// Kinds returns the registered kinds in registration order.
func (r *SessionFactories) Kinds() []SessionKind {
	if r == nil {
		return nil
	}
	out := make([]SessionKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}
