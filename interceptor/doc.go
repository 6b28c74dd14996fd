// Package interceptor provides the standard stages of a command pipeline.
//
// Outermost first, the production chain is
// Log, Tracing, Metrics, Retry, UnitOfWork and finally the invoker.
//
//   - [Log] logs command start at debug and failures at error level
//   - [Tracing] wraps each command in an OpenTelemetry span
//   - [Metrics] records per-command duration and outcome counters
//   - [Retry] re-runs a command that lost an optimistic-lock race
//   - [UnitOfWork] opens or joins a unit of work, captures failures into
//     it and closes it
package interceptor
