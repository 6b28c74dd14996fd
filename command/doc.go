// Package command runs commands through an ordered chain of interceptors
// that ends in an [Invoker].
//
// A [Pipeline] is built once from its interceptors and is immutable
// afterwards. Each interceptor decides what to do before and after calling
// Next().Execute; the Invoker is always last and runs the command against
// the unit of work bound to the context.
//
//	p, err := command.NewPipeline(command.DefaultConfig(),
//	    interceptor.Log(logger),
//	    interceptor.UnitOfWork(factories, txFactory, logger),
//	)
//	n, err := command.Execute(ctx, p, countJobs{})
//
// Commands run synchronously on the caller's goroutine.
package command
