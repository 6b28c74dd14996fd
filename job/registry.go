package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/uow"
)

// Handler runs jobs of one type. It executes inside the job's own unit of
// work; anything it stages commits or rolls back with the job's deletion.
type Handler interface {
	Type() string
	Execute(ctx context.Context, u *uow.UnitOfWork, j *Job) error
}

// HandlerFunc is the type-erased form of a handler.
type HandlerFunc func(ctx context.Context, u *uow.UnitOfWork, j *Job) error

type handler struct {
	typ string
	fn  HandlerFunc
}

func (h handler) Type() string { return h.typ }

func (h handler) Execute(ctx context.Context, u *uow.UnitOfWork, j *Job) error {
	return h.fn(ctx, u, j)
}

// NewHandler adapts fn into a Handler for jobs of type typ.
func NewHandler(typ string, fn HandlerFunc) Handler {
	return handler{typ: typ, fn: fn}
}

// Define returns a Handler that JSON-decodes the job's HandlerConfig into T
// before calling fn. An empty HandlerConfig leaves T at its zero value.
func Define[T any](typ string, fn func(ctx context.Context, u *uow.UnitOfWork, j *Job, cfg T) error) Handler {
	return NewHandler(typ, func(ctx context.Context, u *uow.UnitOfWork, j *Job) error {
		var cfg T
		if len(j.HandlerConfig) > 0 {
			if err := json.Unmarshal(j.HandlerConfig, &cfg); err != nil {
				return fmt.Errorf("decode handler config for job type %q: %w", typ, err)
			}
		}
		return fn(ctx, u, j, cfg)
	})
}

// Registry maps job types to handlers. It is built once and never
// changes, so it is safe for concurrent use without locking.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry. Two handlers for one type is a
// configuration error.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil || h.Type() == "" {
			return nil, flowcore.Configurationf("job handler without a type")
		}
		if _, dup := r.handlers[h.Type()]; dup {
			return nil, flowcore.Configurationf("duplicate handler for job type %q", h.Type())
		}
		r.handlers[h.Type()] = h
	}
	return r, nil
}

// Get returns the handler for a job type.
func (r *Registry) Get(typ string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[typ]
	return h, ok
}

// Resolve returns the handler for a job type or flowcore.ErrNoHandler.
func (r *Registry) Resolve(typ string) (Handler, error) {
	h, ok := r.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", flowcore.ErrNoHandler, typ)
	}
	return h, nil
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
