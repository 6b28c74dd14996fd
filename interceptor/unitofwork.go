package interceptor

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/uow"
)

// UnitOfWorkInterceptor binds a unit of work to every command.
//
// A command joins the unit already bound to the context when its config
// joins enclosing units and that unit is reusable. A failure of a joined
// command is captured into the enclosing unit and returned. Otherwise a
// fresh unit is opened with its own transaction; a failure or a panic is
// captured into it rather than returned right away, so the close sequence
// always runs and rolls back.
type UnitOfWorkInterceptor struct {
	command.Base
	factories *uow.SessionFactories
	newTx     uow.TransactionFactory
	logger    *slog.Logger
}

// UnitOfWork returns the unit-of-work interceptor. newTx may be nil for
// units without an external transaction.
func UnitOfWork(factories *uow.SessionFactories, newTx uow.TransactionFactory, logger *slog.Logger) *UnitOfWorkInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitOfWorkInterceptor{factories: factories, newTx: newTx, logger: logger}
}

// Execute implements command.Interceptor.
func (i *UnitOfWorkInterceptor) Execute(ctx context.Context, cfg command.Config, cmd command.Any) (any, error) {
	if joins(ctx, cfg) {
		outer := uow.FromContext(ctx)
		out, err := i.invoke(ctx, cfg, cmd)
		if err != nil {
			outer.Exception(err)
			return nil, err
		}
		return out, nil
	}

	var tx uow.Transaction
	if i.newTx != nil {
		tx = i.newTx(ctx)
	}
	u := uow.New(i.factories, tx,
		uow.WithLogger(i.logger),
		uow.WithName(cmd.Name()),
		uow.WithReusable(cfg.Propagation() != command.NotSupported),
	)
	ctx = uow.WithUnitOfWork(ctx, u)

	out, err := i.invoke(ctx, cfg, cmd)
	u.Exception(err)
	if err := u.Close(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (i *UnitOfWorkInterceptor) invoke(ctx context.Context, cfg command.Config, cmd command.Any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			i.logger.Error("command panicked",
				slog.String("command", cmd.Name()),
				slog.Any("panic", r),
				slog.String("stack", stack),
			)
			out, err = nil, &flowcore.PanicError{Value: r, Stack: stack}
		}
	}()
	return i.Next().Execute(ctx, cfg, cmd)
}
