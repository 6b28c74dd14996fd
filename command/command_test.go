package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/uow"
)

// tagging records its name before and after the rest of the chain.
type tagging struct {
	command.Base
	name string
	log  *[]string
}

func (t *tagging) Execute(ctx context.Context, cfg command.Config, cmd command.Any) (any, error) {
	*t.log = append(*t.log, "enter:"+t.name)
	out, err := t.Next().Execute(ctx, cfg, cmd)
	*t.log = append(*t.log, "exit:"+t.name)
	return out, err
}

// binding binds a fresh unit so the invoker can run.
type binding struct {
	command.Base
}

func (b *binding) Execute(ctx context.Context, cfg command.Config, cmd command.Any) (any, error) {
	return b.Next().Execute(uow.WithUnitOfWork(ctx, uow.New(nil, nil)), cfg, cmd)
}

func TestPipeline_RunsInterceptorsInOrder(t *testing.T) {
	var log []string
	p, err := command.NewPipeline(command.DefaultConfig(),
		&tagging{name: "outer", log: &log},
		&tagging{name: "inner", log: &log},
		&binding{},
	)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Len())

	got, err := command.Execute(context.Background(), p, command.Func[int](
		func(context.Context, *uow.UnitOfWork) (int, error) {
			log = append(log, "command")
			return 42, nil
		}))
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, []string{"enter:outer", "enter:inner", "command", "exit:inner", "exit:outer"}, log)
}

func TestPipeline_ExplicitTrailingInvokerIsKept(t *testing.T) {
	p, err := command.NewPipeline(command.DefaultConfig(), &binding{}, command.Invoker{})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}

func TestPipeline_InvokerMustBeLast(t *testing.T) {
	_, err := command.NewPipeline(command.DefaultConfig(), command.Invoker{}, &binding{})
	require.ErrorIs(t, err, flowcore.ErrConfiguration)
}

func TestInvoker_SetNextFails(t *testing.T) {
	err := command.Invoker{}.SetNext(&binding{})
	require.ErrorIs(t, err, flowcore.ErrConfiguration)
	assert.Nil(t, command.Invoker{}.Next())
}

func TestInvoker_RequiresUnitOfWork(t *testing.T) {
	p, err := command.NewPipeline(command.DefaultConfig())
	require.NoError(t, err)

	_, err = command.Execute(context.Background(), p, command.Func[int](
		func(context.Context, *uow.UnitOfWork) (int, error) { return 1, nil }))
	require.ErrorIs(t, err, flowcore.ErrConfiguration)
}

func TestExecute_PropagatesBusinessFailure(t *testing.T) {
	p, err := command.NewPipeline(command.DefaultConfig(), &binding{})
	require.NoError(t, err)

	boom := errors.New("boom")
	got, err := command.Execute(context.Background(), p, command.Func[string](
		func(context.Context, *uow.UnitOfWork) (string, error) { return "ignored", boom }))
	require.ErrorIs(t, err, boom)
	assert.Empty(t, got)
}

func TestExecute_NilPointerResult(t *testing.T) {
	p, err := command.NewPipeline(command.DefaultConfig(), &binding{})
	require.NoError(t, err)

	got, err := command.Execute(context.Background(), p, command.Func[*int](
		func(context.Context, *uow.UnitOfWork) (*int, error) { return nil, nil }))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConfig_CopiesAreIndependent(t *testing.T) {
	base := command.DefaultConfig()
	changed := base.WithPropagation(command.RequiresNew).WithContextReusable(false)

	assert.Equal(t, command.Required, base.Propagation())
	assert.True(t, base.ContextReusable())
	assert.True(t, base.JoinsEnclosing())

	assert.Equal(t, command.RequiresNew, changed.Propagation())
	assert.False(t, changed.ContextReusable())
	assert.False(t, changed.JoinsEnclosing())

	assert.Equal(t, changed, command.RequiresNewConfig())
	assert.Equal(t, command.NotSupported, command.NotSupportedConfig().Propagation())
}

func TestNameOf(t *testing.T) {
	named := command.NamedFunc("count-jobs", func(context.Context, *uow.UnitOfWork) (int, error) { return 0, nil })
	assert.Equal(t, "count-jobs", command.NameOf(named))
	assert.Equal(t, "count-jobs", command.Erase(named).Name())
	assert.Equal(t, "command.Func[int]", command.NameOf(command.Func[int](nil)))
}
