// Package persistence provides the flush discipline shared by every
// store-backed session: staged inserts (batched when the backend can),
// updates only for entities whose state changed since load, and deletes,
// with lost optimistic-lock races classified as concurrent updates.
package persistence

import (
	"bytes"
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Entity is a persisted record under optimistic locking.
type Entity interface {
	EntityID() string
	Revision() int
	SetRevision(rev int)
	// PersistentState returns the mutable part of the entity. Two entities
	// with equal persistent state need no update.
	PersistentState() any
}

// Backend writes staged changes inside the current store transaction.
// Update and Delete must only match the row at e.Revision(); Update stores
// e.Revision()+1. Both return the number of rows affected.
type Backend[E Entity] interface {
	Insert(ctx context.Context, e E) error
	Update(ctx context.Context, e E) (int64, error)
	Delete(ctx context.Context, e E) (int64, error)
}

// BatchInserter is implemented by backends that can insert many entities
// in one statement.
type BatchInserter[E Entity] interface {
	InsertBatch(ctx context.Context, es []E) error
}

// Snapshot is the encoded persistent state of an entity at load time.
type Snapshot []byte

// TakeSnapshot encodes e's persistent state. Map keys are sorted so equal
// states always encode to equal bytes.
func TakeSnapshot(e Entity) (Snapshot, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(e.PersistentState()); err != nil {
		return nil, fmt.Errorf("persistence: snapshot %s: %w", e.EntityID(), err)
	}
	return buf.Bytes(), nil
}

// Equal reports whether two snapshots encode the same state.
func (s Snapshot) Equal(other Snapshot) bool { return bytes.Equal(s, other) }
