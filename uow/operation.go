package uow

import (
	"context"
	"fmt"
)

// Target is the execution an operation acts upon, identified by TargetID.
type Target interface {
	TargetID() string
}

// Operation is one named execution step. Executing it may enqueue further
// operations on the same unit and may redirect a target to a replacement.
type Operation interface {
	Name() string
	Execute(ctx context.Context, u *UnitOfWork, target Target) error
}

type operationFunc struct {
	name string
	fn   func(ctx context.Context, u *UnitOfWork, target Target) error
}

func (o operationFunc) Name() string { return o.name }

func (o operationFunc) Execute(ctx context.Context, u *UnitOfWork, target Target) error {
	return o.fn(ctx, u, target)
}

// NewOperation adapts a function into an Operation.
func NewOperation(name string, fn func(ctx context.Context, u *UnitOfWork, target Target) error) Operation {
	return operationFunc{name: name, fn: fn}
}

type pendingOperation struct {
	op     Operation
	target Target
}

// PerformOperation appends op to the FIFO operation queue. If no drain is
// running, it drains the queue on the calling goroutine until empty; a call
// made while draining only appends. Draining stops at the first failing
// operation, discards what is still queued and returns the failure.
func (u *UnitOfWork) PerformOperation(ctx context.Context, op Operation, target Target) error {
	u.queue = append(u.queue, pendingOperation{op: op, target: target})
	if u.draining {
		return nil
	}

	u.draining = true
	defer func() { u.draining = false }()

	for len(u.queue) > 0 {
		next := u.queue[0]
		u.queue[0] = pendingOperation{}
		u.queue = u.queue[1:]

		target := u.Resolve(next.target)
		if err := next.op.Execute(ctx, u, target); err != nil {
			u.queue = nil
			return fmt.Errorf("uow: operation %s on %s: %w", next.op.Name(), targetID(target), err)
		}
	}
	u.queue = nil
	return nil
}

// Redirect makes every operation still queued for from, and every one queued
// for it later in this unit, act on to instead.
func (u *UnitOfWork) Redirect(from, to Target) {
	if from == nil || to == nil || from.TargetID() == to.TargetID() {
		return
	}
	if u.redirects == nil {
		u.redirects = make(map[string]Target)
	}
	u.redirects[from.TargetID()] = to
}

// Resolve follows redirections from t to its current replacement.
func (u *UnitOfWork) Resolve(t Target) Target {
	if t == nil {
		return nil
	}
	for hops := 0; hops <= len(u.redirects); hops++ {
		next, ok := u.redirects[t.TargetID()]
		if !ok {
			return t
		}
		t = next
	}
	return t
}

// Pending returns the number of queued operations.
func (u *UnitOfWork) Pending() int { return len(u.queue) }

func targetID(t Target) string {
	if t == nil {
		return "<none>"
	}
	return t.TargetID()
}
