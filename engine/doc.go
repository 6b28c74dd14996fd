// Package engine wires the flowcore subsystems into one node: the command
// pipeline with its unit-of-work interceptor, the job and history
// sessions, the acquisition loop and the execution pool.
//
// # Building an Engine
//
//	store, _ := postgres.New(ctx, dsn)
//	eng, err := engine.New(store,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithNotifier(notify.NewRedis(rdb, cfg.LockOwner)),
//	    engine.WithHandlers(
//	        job.Define("send-invoice", sendInvoice),
//	    ),
//	)
//
// # Running Commands
//
// Every mutation runs as a command in a unit of work. Nested commands join
// the caller's unit unless their configuration asks for a new one:
//
//	j, err := eng.CreateTimer(ctx, job.TimerSpec{Type: "send-invoice", DueDate: due})
//	n, err := engine.Execute(ctx, eng, job.CancelJobs(executionID))
//
// # Lifecycle
//
// Start runs the acquisition loop and the pool in the background; Stop
// ends acquisition and drains the pool within the shutdown timeout.
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
// # Options
//
//   - [WithConfig]: tunables, see flowcore.Config
//   - [WithClock]: time source for due dates and leases
//   - [WithNotifier]: wake-up signal for the acquisition loop
//   - [WithHistoryStore]: separate destination for history records
//   - [WithExtension]: lifecycle hooks
//   - [WithInterceptor]: extra pipeline stages, run inside the unit of work
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
