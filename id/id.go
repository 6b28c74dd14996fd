// Package id defines the identifiers flowcore mints.
//
// Job and history ids are persisted and parsed back by every store; unit
// ids only correlate the log lines and spans of one unit of work. Each kind
// is its own Go type, so a history id can never be passed where a job id is
// expected, and parsing checks the TypeID prefix of the kind.
//
// Ids are UUIDv7-based TypeIDs ("job_01h2xcejqtf2nbrexx3vqjhp41"). Within a
// kind their string form sorts by creation time, which the stores use as
// the tie-breaker after the due date.
package id

import (
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix is the TypeID prefix of an id kind.
type Prefix string

const (
	PrefixJob     Prefix = "job"
	PrefixHistory Prefix = "hist"
	PrefixUnit    Prefix = "uow"
)

// Kind ties an ID type to its prefix.
type Kind interface {
	prefix() Prefix
}

type (
	jobKind     struct{}
	historyKind struct{}
	unitKind    struct{}
)

func (jobKind) prefix() Prefix     { return PrefixJob }
func (historyKind) prefix() Prefix { return PrefixHistory }
func (unitKind) prefix() Prefix    { return PrefixUnit }

// ID is an identifier of kind K. The zero value is the nil id.
type ID[K Kind] struct {
	s string
}

type (
	// JobID identifies a job row.
	JobID = ID[jobKind]
	// HistoryID identifies a job history record.
	HistoryID = ID[historyKind]
	// UnitID correlates the log lines of one unit of work. It is never
	// stored.
	UnitID = ID[unitKind]
)

func generate[K Kind]() ID[K] {
	var k K
	tid, err := typeid.Generate(string(k.prefix()))
	if err != nil {
		// The prefixes are constants; this is a programming error.
		panic(fmt.Sprintf("id: generate %q: %v", k.prefix(), err))
	}
	return ID[K]{s: tid.String()}
}

func parse[K Kind](s string) (ID[K], error) {
	var k K
	if s == "" {
		return ID[K]{}, fmt.Errorf("id: parse %s id: empty string", k.prefix())
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return ID[K]{}, fmt.Errorf("id: parse %s id %q: %w", k.prefix(), s, err)
	}
	if got := Prefix(tid.Prefix()); got != k.prefix() {
		return ID[K]{}, fmt.Errorf("id: %q is a %s id, want %s", s, got, k.prefix())
	}
	return ID[K]{s: tid.String()}, nil
}

// NewJobID returns a new job id.
func NewJobID() JobID { return generate[jobKind]() }

// NewHistoryID returns a new history record id.
func NewHistoryID() HistoryID { return generate[historyKind]() }

// NewUnitID returns a new unit-of-work correlation id.
func NewUnitID() UnitID { return generate[unitKind]() }

// ParseJobID parses a stored job id.
func ParseJobID(s string) (JobID, error) { return parse[jobKind](s) }

// ParseHistoryID parses a stored history record id.
func ParseHistoryID(s string) (HistoryID, error) { return parse[historyKind](s) }

// String returns the TypeID form, or "" for the nil id.
func (i ID[K]) String() string { return i.s }

// Prefix returns the prefix of the kind.
func (i ID[K]) Prefix() Prefix {
	var k K
	return k.prefix()
}

// IsNil reports whether i is the zero value.
func (i ID[K]) IsNil() bool { return i.s == "" }

// MarshalText encodes the nil id as an empty string.
func (i ID[K]) MarshalText() ([]byte, error) { return []byte(i.s), nil }

// UnmarshalText decodes an id of kind K; an empty input yields the nil id.
func (i *ID[K]) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = ID[K]{}
		return nil
	}
	parsed, err := parse[K](string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Compare orders ids of one kind by creation time. The nil id sorts first.
func Compare[K Kind](a, b ID[K]) int {
	return strings.Compare(a.s, b.s)
}
