package command

import (
	"context"

	"github.com/xraph/flowcore"
)

// Pipeline is an immutable chain of interceptors ending in an Invoker.
type Pipeline struct {
	first  Interceptor
	stages []Interceptor
	config Config
}

// NewPipeline links interceptors in order and appends an Invoker when the
// list does not already end with one. An Invoker anywhere else is a
// configuration error.
func NewPipeline(cfg Config, interceptors ...Interceptor) (*Pipeline, error) {
	stages := make([]Interceptor, 0, len(interceptors)+1)
	for _, ic := range interceptors {
		if ic == nil {
			return nil, flowcore.Configurationf("nil interceptor at position %d", len(stages))
		}
		stages = append(stages, ic)
	}
	if len(stages) == 0 || !isInvoker(stages[len(stages)-1]) {
		stages = append(stages, Invoker{})
	}
	for i := 0; i < len(stages)-1; i++ {
		if err := stages[i].SetNext(stages[i+1]); err != nil {
			return nil, err
		}
	}
	return &Pipeline{first: stages[0], stages: stages, config: cfg}, nil
}

func isInvoker(ic Interceptor) bool {
	switch ic.(type) {
	case Invoker, *Invoker:
		return true
	}
	return false
}

// Config returns the configuration used by Execute.
func (p *Pipeline) Config() Config { return p.config }

// Len returns the number of stages, including the Invoker.
func (p *Pipeline) Len() int { return len(p.stages) }

// Execute runs cmd with the pipeline's default configuration.
func (p *Pipeline) Execute(ctx context.Context, cmd Any) (any, error) {
	return p.first.Execute(ctx, p.config, cmd)
}

// ExecuteWith runs cmd with cfg.
func (p *Pipeline) ExecuteWith(ctx context.Context, cfg Config, cmd Any) (any, error) {
	return p.first.Execute(ctx, cfg, cmd)
}

// Execute runs c through p with p's default configuration.
func Execute[R any](ctx context.Context, p *Pipeline, c Command[R]) (R, error) {
	return ExecuteWith(ctx, p, p.config, c)
}

// ExecuteWith runs c through p with cfg.
func ExecuteWith[R any](ctx context.Context, p *Pipeline, cfg Config, c Command[R]) (R, error) {
	var zero R
	out, err := p.ExecuteWith(ctx, cfg, Erase(c))
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	r, ok := out.(R)
	if !ok {
		return zero, flowcore.Configurationf("command %s returned %T, want %T", NameOf(c), out, zero)
	}
	return r, nil
}
