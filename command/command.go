package command

import (
	"context"
	"fmt"

	"github.com/xraph/flowcore/uow"
)

// Command is a unit of business logic run inside a unit of work.
type Command[R any] interface {
	Execute(ctx context.Context, u *uow.UnitOfWork) (R, error)
}

// Named is implemented by commands that want a stable name in logs, spans
// and metrics. Commands without it are named after their Go type.
type Named interface {
	Name() string
}

// Func adapts a function into a Command.
type Func[R any] func(ctx context.Context, u *uow.UnitOfWork) (R, error)

// Execute calls f.
func (f Func[R]) Execute(ctx context.Context, u *uow.UnitOfWork) (R, error) { return f(ctx, u) }

// NamedFunc returns a Command with the given name running fn.
func NamedFunc[R any](name string, fn func(ctx context.Context, u *uow.UnitOfWork) (R, error)) Command[R] {
	return namedFunc[R]{name: name, fn: fn}
}

type namedFunc[R any] struct {
	name string
	fn   func(ctx context.Context, u *uow.UnitOfWork) (R, error)
}

func (n namedFunc[R]) Name() string { return n.name }

func (n namedFunc[R]) Execute(ctx context.Context, u *uow.UnitOfWork) (R, error) {
	return n.fn(ctx, u)
}

// Any is a command with its result type erased, the form interceptors see.
type Any interface {
	Name() string
	ExecuteAny(ctx context.Context, u *uow.UnitOfWork) (any, error)
}

// Erase wraps c as an Any.
func Erase[R any](c Command[R]) Any {
	return erased[R]{cmd: c}
}

type erased[R any] struct {
	cmd Command[R]
}

func (e erased[R]) Name() string { return NameOf(e.cmd) }

func (e erased[R]) ExecuteAny(ctx context.Context, u *uow.UnitOfWork) (any, error) {
	return e.cmd.Execute(ctx, u)
}

// NameOf returns c's name: Name() when c implements Named, its Go type
// otherwise.
func NameOf(c any) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c)
}
