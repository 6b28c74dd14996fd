package persistence

import (
	"context"
	"fmt"

	"github.com/xraph/flowcore"
)

// DefaultBatchSize caps the entities passed to one InsertBatch call.
const DefaultBatchSize = 50

// Option configures an EntitySession.
type Option func(*options)

type options struct {
	batchSize int
}

// WithBatchSize sets the maximum number of entities per batch insert.
// Values below 1 disable batching.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// Stats counts the statements a session issued.
type Stats struct {
	InsertStatements int
	Inserted         int
	Updated          int
	Deleted          int
}

type state int

const (
	stateInserted state = iota + 1
	stateLoaded
	stateDeleted
)

type entry[E Entity] struct {
	entity   E
	state    state
	snapshot Snapshot
}

// EntitySession stages changes to one kind of entity and writes them on
// Flush: inserts first, then updates for entities whose snapshot changed,
// then deletes. An entity inserted and deleted in the same session is never
// written. EntitySession is not safe for concurrent use.
type EntitySession[E Entity] struct {
	name      string
	backend   Backend[E]
	batchSize int

	entries map[string]*entry[E]
	order   []string
	stats   Stats
}

// NewEntitySession creates a session for entities named name, which is used
// in concurrent-update errors.
func NewEntitySession[E Entity](name string, backend Backend[E], opts ...Option) *EntitySession[E] {
	o := options{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &EntitySession[E]{
		name:      name,
		backend:   backend,
		batchSize: o.batchSize,
		entries:   make(map[string]*entry[E]),
	}
}

// Insert stages e for insertion. Its revision is set to 1.
func (s *EntitySession[E]) Insert(e E) {
	e.SetRevision(1)
	s.track(&entry[E]{entity: e, state: stateInserted})
}

// Load registers e as read from the store and snapshots its state. If an
// entity with the same id is already tracked, that instance is returned
// and e is discarded.
func (s *EntitySession[E]) Load(e E) (E, error) {
	if existing, ok := s.entries[e.EntityID()]; ok {
		return existing.entity, nil
	}
	snap, err := TakeSnapshot(e)
	if err != nil {
		var zero E
		return zero, err
	}
	s.track(&entry[E]{entity: e, state: stateLoaded, snapshot: snap})
	return e, nil
}

// Get returns the tracked entity with the given id, unless it was deleted.
func (s *EntitySession[E]) Get(id string) (E, bool) {
	en, ok := s.entries[id]
	if !ok || en.state == stateDeleted {
		var zero E
		return zero, false
	}
	return en.entity, true
}

// Delete stages e for deletion. Deleting an entity staged for insertion
// drops the insert instead.
func (s *EntitySession[E]) Delete(e E) {
	en, ok := s.entries[e.EntityID()]
	if !ok {
		s.track(&entry[E]{entity: e, state: stateDeleted})
		return
	}
	if en.state == stateInserted {
		delete(s.entries, e.EntityID())
		s.untrack(e.EntityID())
		return
	}
	en.state = stateDeleted
}

// Tracked returns every tracked entity that is not staged for deletion, in
// tracking order.
func (s *EntitySession[E]) Tracked() []E {
	out := make([]E, 0, len(s.order))
	for _, id := range s.order {
		if en := s.entries[id]; en.state != stateDeleted {
			out = append(out, en.entity)
		}
	}
	return out
}

// Stats returns the statements issued so far.
func (s *EntitySession[E]) Stats() Stats { return s.stats }

// Flush writes staged changes through the backend. After a successful flush
// every remaining entity counts as loaded with a fresh snapshot.
func (s *EntitySession[E]) Flush(ctx context.Context) error {
	var inserts, updates, deletes []*entry[E]
	for _, id := range s.order {
		en := s.entries[id]
		switch en.state {
		case stateInserted:
			inserts = append(inserts, en)
		case stateLoaded:
			updates = append(updates, en)
		case stateDeleted:
			deletes = append(deletes, en)
		}
	}

	if err := s.flushInserts(ctx, inserts); err != nil {
		return err
	}
	for _, en := range updates {
		if err := s.flushUpdate(ctx, en); err != nil {
			return err
		}
	}
	for _, en := range deletes {
		n, err := s.backend.Delete(ctx, en.entity)
		if err != nil {
			return fmt.Errorf("persistence: delete %s %s: %w", s.name, en.entity.EntityID(), err)
		}
		if n == 0 {
			return s.conflict(en.entity)
		}
		s.stats.Deleted++
		delete(s.entries, en.entity.EntityID())
		s.untrack(en.entity.EntityID())
	}
	return nil
}

func (s *EntitySession[E]) flushInserts(ctx context.Context, inserts []*entry[E]) error {
	if len(inserts) == 0 {
		return nil
	}
	batcher, ok := s.backend.(BatchInserter[E])
	if ok && s.batchSize > 1 && len(inserts) > 1 {
		for start := 0; start < len(inserts); start += s.batchSize {
			end := min(start+s.batchSize, len(inserts))
			chunk := make([]E, 0, end-start)
			for _, en := range inserts[start:end] {
				chunk = append(chunk, en.entity)
			}
			if err := batcher.InsertBatch(ctx, chunk); err != nil {
				return fmt.Errorf("persistence: batch insert %d %s: %w", len(chunk), s.name, err)
			}
			s.stats.InsertStatements++
			s.stats.Inserted += len(chunk)
		}
	} else {
		for _, en := range inserts {
			if err := s.backend.Insert(ctx, en.entity); err != nil {
				return fmt.Errorf("persistence: insert %s %s: %w", s.name, en.entity.EntityID(), err)
			}
			s.stats.InsertStatements++
			s.stats.Inserted++
		}
	}
	for _, en := range inserts {
		snap, err := TakeSnapshot(en.entity)
		if err != nil {
			return err
		}
		en.state, en.snapshot = stateLoaded, snap
	}
	return nil
}

func (s *EntitySession[E]) flushUpdate(ctx context.Context, en *entry[E]) error {
	current, err := TakeSnapshot(en.entity)
	if err != nil {
		return err
	}
	if current.Equal(en.snapshot) {
		return nil
	}
	n, err := s.backend.Update(ctx, en.entity)
	if err != nil {
		return fmt.Errorf("persistence: update %s %s: %w", s.name, en.entity.EntityID(), err)
	}
	if n == 0 {
		return s.conflict(en.entity)
	}
	en.entity.SetRevision(en.entity.Revision() + 1)
	en.snapshot = current
	s.stats.Updated++
	return nil
}

// UpdateNow writes a loaded entity right away instead of at flush time,
// if its state changed. A lost race yields a ConcurrentUpdateError and
// leaves the entity's snapshot untouched.
func (s *EntitySession[E]) UpdateNow(ctx context.Context, e E) error {
	en, ok := s.entries[e.EntityID()]
	if !ok || en.state != stateLoaded {
		return flowcore.Configurationf("%s %s is not loaded in this session", s.name, e.EntityID())
	}
	return s.flushUpdate(ctx, en)
}

// Evict stops tracking the entity with the given id. Nothing is written
// for it at flush time.
func (s *EntitySession[E]) Evict(id string) {
	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.untrack(id)
	}
}

// Close drops every tracked entity.
func (s *EntitySession[E]) Close(context.Context) error {
	clear(s.entries)
	s.order = nil
	return nil
}

func (s *EntitySession[E]) conflict(e E) error {
	return &flowcore.ConcurrentUpdateError{Entity: s.name, ID: e.EntityID(), Revision: e.Revision()}
}

func (s *EntitySession[E]) track(en *entry[E]) {
	id := en.entity.EntityID()
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = en
}

func (s *EntitySession[E]) untrack(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
