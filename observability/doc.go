// Package observability records engine-wide job metrics with
// OpenTelemetry. The MetricsExtension implements the ext lifecycle hooks
// and counts acquisitions, completions, retries and dead jobs.
//
// For per-command tracing and metrics, see the interceptor package:
// interceptor.Tracing() and interceptor.Metrics().
package observability
