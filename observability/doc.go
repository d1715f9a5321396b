// Package observability provides an OpenTelemetry metrics extension for
// cohort. The MetricsExtension implements lifecycle hooks to record
// registration outcomes, deregistrations, termination requests, received
// jobs and coordinator membership changes.
//
// The handshake itself is traced by the handshake package.
package observability
