package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/flowcore/clock"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/uow"
)

// SessionKind is the kind under which the history session is registered.
const SessionKind uow.SessionKind = "history"

// SessionOptions configures history sessions.
type SessionOptions struct {
	// Store receives records when the job transaction cannot write them.
	// Nil drops them.
	Store  Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// NewSessionFactory returns the factory opening a history Session.
func NewSessionFactory(opts SessionOptions) uow.SessionFactory {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return uow.NewSessionFactory(SessionKind, func(_ context.Context, u *uow.UnitOfWork) (uow.Session, error) {
		return &Session{u: u, opts: opts}, nil
	})
}

// SessionFrom returns the history session of u.
func SessionFrom(ctx context.Context, u *uow.UnitOfWork) (*Session, error) {
	return uow.SessionOf[*Session](ctx, u, SessionKind)
}

// Session stages history records for one unit of work.
type Session struct {
	u       *uow.UnitOfWork
	opts    SessionOptions
	pending []*Record
}

// Record stages r. Missing ids and timestamps are filled in.
func (s *Session) Record(r *Record) {
	if r.ID.IsNil() {
		r.ID = id.NewHistoryID()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = s.opts.Clock.Now()
	}
	s.pending = append(s.pending, r)
}

// Pending returns the records not yet flushed.
func (s *Session) Pending() []*Record { return s.pending }

// Flush writes the staged records through the job store transaction when
// it supports history, or defers them to the history store until after the
// unit commits.
func (s *Session) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	records := s.pending
	s.pending = nil

	if tx, err := job.TxOf(ctx, s.u); err == nil {
		if w, ok := tx.(TxWriter); ok {
			if err := w.InsertHistory(ctx, records); err != nil {
				return fmt.Errorf("history: insert %d records: %w", len(records), err)
			}
			return nil
		}
	}
	if s.opts.Store == nil {
		return nil
	}

	store, logger := s.opts.Store, s.opts.Logger
	s.u.AddCloseListener(uow.ListenerFuncs{
		OnClosed: func(ctx context.Context, _ *uow.UnitOfWork) error {
			if err := store.InsertRecords(ctx, records); err != nil {
				// The job outcome is already committed.
				logger.Error("history write failed after commit",
					slog.Int("records", len(records)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		},
	})
	return nil
}

// Close implements uow.Session.
func (s *Session) Close(context.Context) error {
	s.pending = nil
	return nil
}
