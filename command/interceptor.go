package command

import (
	"context"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/uow"
)

// Interceptor is one stage of a pipeline. Every stage except the Invoker
// must call Next().Execute to continue the chain.
type Interceptor interface {
	Execute(ctx context.Context, cfg Config, cmd Any) (any, error)
	SetNext(next Interceptor) error
	Next() Interceptor
}

// Base provides SetNext and Next for embedding in interceptors.
type Base struct {
	next Interceptor
}

// SetNext links the following stage.
func (b *Base) SetNext(next Interceptor) error {
	b.next = next
	return nil
}

// Next returns the following stage.
func (b *Base) Next() Interceptor { return b.next }

// Invoker is the terminal stage. It runs the command against the unit of
// work bound to the context.
type Invoker struct{}

// Execute runs cmd. Without a bound unit of work it fails with a
// configuration error.
func (Invoker) Execute(ctx context.Context, _ Config, cmd Any) (any, error) {
	u := uow.FromContext(ctx)
	if u == nil {
		return nil, flowcore.Configurationf("command %s reached the invoker without a unit of work", cmd.Name())
	}
	return cmd.ExecuteAny(ctx, u)
}

// SetNext always fails: nothing may follow the invoker.
func (Invoker) SetNext(Interceptor) error {
	return flowcore.Configurationf("the invoker must be the last interceptor")
}

// Next returns nil.
func (Invoker) Next() Interceptor { return nil }
