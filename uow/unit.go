// Package uow implements the unit of work: the bounded scope in which every
// mutation of engine state is staged, flushed and committed together, or
// rolled back together.
//
// A UnitOfWork owns one Session per SessionKind (opened lazily, flushed in
// registration order), a FIFO operation queue, close listeners and a single
// captured failure. It is used by one goroutine at a time; the command
// pipeline runs synchronously on the caller's goroutine.
package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/id"
)

// UnitOfWork is a scope of mutations committed or rolled back together.
type UnitOfWork struct {
	id        id.UnitID
	name      string
	factories *SessionFactories
	tx        Transaction
	logger    *slog.Logger
	reusable  bool

	sessions  map[SessionKind]Session
	order     []SessionKind
	listeners []CloseListener

	queue     []pendingOperation
	draining  bool
	redirects map[string]Target

	attributes map[any]any

	exception error
	secondary []error
	closed    bool
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithLogger sets the logger used for masked failures.
func WithLogger(l *slog.Logger) Option {
	return func(u *UnitOfWork) { u.logger = l }
}

// WithName records the name of the command that opened the unit.
func WithName(name string) Option {
	return func(u *UnitOfWork) { u.name = name }
}

// WithReusable controls whether nested commands may join this unit.
// Units are reusable by default.
func WithReusable(reusable bool) Option {
	return func(u *UnitOfWork) { u.reusable = reusable }
}

// New creates a unit of work over the given session factories and
// transaction. A nil transaction is replaced by NoTransaction.
func New(factories *SessionFactories, tx Transaction, opts ...Option) *UnitOfWork {
	if tx == nil {
		tx = NoTransaction{}
	}
	u := &UnitOfWork{
		id:        id.NewUnitID(),
		factories: factories,
		tx:        tx,
		logger:    slog.Default(),
		reusable:  true,
		sessions:  make(map[SessionKind]Session),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ID returns the unit's correlation id.
func (u *UnitOfWork) ID() id.UnitID { return u.id }

// Name returns the name of the command that opened the unit.
func (u *UnitOfWork) Name() string { return u.name }

// Logger returns the unit's logger.
func (u *UnitOfWork) Logger() *slog.Logger { return u.logger }

// Transaction returns the transaction the unit commits on close.
func (u *UnitOfWork) Transaction() Transaction { return u.tx }

// Reusable reports whether nested commands may join this unit. A unit that
// captured a failure or is closed is never joined.
func (u *UnitOfWork) Reusable() bool {
	return u.reusable && !u.closed && u.exception == nil
}

// Err returns the captured failure, if any.
func (u *UnitOfWork) Err() error { return u.exception }

// Closed reports whether Close has run.
func (u *UnitOfWork) Closed() bool { return u.closed }

// Session returns the session of the given kind, opening it through the
// registered factory on first use. A missing factory is a configuration
// error.
func (u *UnitOfWork) Session(ctx context.Context, kind SessionKind) (Session, error) {
	if s, ok := u.sessions[kind]; ok {
		return s, nil
	}
	if u.closed {
		return nil, flowcore.Configurationf("session %q requested from closed unit of work", kind)
	}
	f, ok := u.factories.Get(kind)
	if !ok {
		return nil, flowcore.Configurationf("no session factory registered for kind %q", kind)
	}
	s, err := f.Open(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("uow: open %s session: %w", kind, err)
	}
	u.sessions[kind] = s
	u.order = append(u.order, kind)
	return s, nil
}

// SessionOf returns the session of the given kind as S.
func SessionOf[S Session](ctx context.Context, u *UnitOfWork, kind SessionKind) (S, error) {
	var zero S
	if u == nil {
		return zero, flowcore.Configurationf("no unit of work bound for session %q", kind)
	}
	s, err := u.Session(ctx, kind)
	if err != nil {
		return zero, err
	}
	typed, ok := s.(S)
	if !ok {
		return zero, flowcore.Configurationf("session %q is %T, not %T", kind, s, zero)
	}
	return typed, nil
}

// SetAttribute stores scratch state for the lifetime of the unit.
func (u *UnitOfWork) SetAttribute(key, value any) {
	if u.attributes == nil {
		u.attributes = make(map[any]any)
	}
	u.attributes[key] = value
}

// Attribute returns the scratch state stored under key.
func (u *UnitOfWork) Attribute(key any) (any, bool) {
	v, ok := u.attributes[key]
	return v, ok
}

// AddCloseListener registers l. Listeners fire in registration order.
func (u *UnitOfWork) AddCloseListener(l CloseListener) {
	u.listeners = append(u.listeners, l)
}

// Exception records err as the unit's failure. Only the first failure is
// kept; later ones are logged and kept as secondary so an error raised
// while unwinding never hides the root cause.
func (u *UnitOfWork) Exception(err error) {
	if err == nil {
		return
	}
	if u.exception == nil {
		u.exception = err
		return
	}
	if err == u.exception || errors.Is(err, u.exception) {
		return
	}
	u.secondary = append(u.secondary, err)
	u.logger.Warn("masked exception in unit of work",
		slog.String("unit_id", u.id.String()),
		slog.String("command", u.name),
		slog.String("primary", u.exception.Error()),
		slog.String("error", err.Error()),
	)
}

// Outcome returns the unit's primary and secondary failures.
func (u *UnitOfWork) Outcome() Outcome {
	secondary := make([]error, len(u.secondary))
	copy(secondary, u.secondary)
	return Outcome{Primary: u.exception, Secondary: secondary}
}

// Close runs the close sequence:
//
//  1. without a failure, fire Closing on every listener;
//  2. without a failure, flush every session in registration order;
//  3. without a failure, commit the transaction;
//  4. after a successful commit, fire Closed on every listener;
//  5. with a failure before the commit, roll back instead; any failure
//     notifies CloseFailureListeners;
//  6. always close every session;
//  7. return the primary failure.
//
// The first failure of any step is captured; later ones are masked.
func (u *UnitOfWork) Close(ctx context.Context) error {
	if u.closed {
		return u.exception
	}
	defer func() { u.closed = true }()

	if u.exception == nil {
		u.fireClosing(ctx)
	}
	if u.exception == nil {
		u.flushSessions(ctx)
	}

	// A Transaction must leave nothing applied when Commit fails, so a
	// failed commit is never followed by a rollback.
	commitAttempted := false
	if u.exception == nil {
		commitAttempted = true
		if err := u.tx.Commit(ctx); err != nil {
			u.Exception(fmt.Errorf("uow: commit: %w", err))
		} else {
			u.fireClosed(ctx)
		}
	}

	if u.exception != nil {
		if !commitAttempted {
			if err := u.tx.Rollback(ctx); err != nil {
				u.Exception(fmt.Errorf("uow: rollback: %w", err))
			}
		}
		u.fireCloseFailure(ctx)
	}

	u.closeSessions(ctx)
	return u.exception
}

func (u *UnitOfWork) fireClosing(ctx context.Context) {
	for i := 0; i < len(u.listeners); i++ {
		if err := u.listeners[i].Closing(ctx, u); err != nil {
			u.Exception(err)
			return
		}
	}
}

func (u *UnitOfWork) fireClosed(ctx context.Context) {
	for i := 0; i < len(u.listeners); i++ {
		if err := u.listeners[i].Closed(ctx, u); err != nil {
			u.Exception(err)
			return
		}
	}
}

func (u *UnitOfWork) fireCloseFailure(ctx context.Context) {
	for _, l := range u.listeners {
		if fl, ok := l.(CloseFailureListener); ok {
			fl.CloseFailure(ctx, u, u.exception)
		}
	}
}

// flushSessions flushes in registration order. A session opened while
// flushing another is appended to the order and flushed in turn.
func (u *UnitOfWork) flushSessions(ctx context.Context) {
	for i := 0; i < len(u.order); i++ {
		kind := u.order[i]
		if err := u.sessions[kind].Flush(ctx); err != nil {
			u.Exception(err)
			return
		}
	}
}

func (u *UnitOfWork) closeSessions(ctx context.Context) {
	for _, kind := range u.order {
		if err := u.sessions[kind].Close(ctx); err != nil {
			u.Exception(fmt.Errorf("uow: close %s session: %w", kind, err))
		}
	}
}
