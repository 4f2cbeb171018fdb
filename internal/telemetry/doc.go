// Package telemetry sets up OpenTelemetry tracing for proctord.
//
// Spans cover the externally visible steps of a session: answer submission,
// grading, code execution and finalization. Exporters speak OTLP over gRPC or
// HTTP. When the collector is unreachable the package degrades to a no-op
// tracer rather than failing startup.
//
// Session and integrity counters are served by Prometheus on /metrics. HTTP
// request metrics are OpenTelemetry instruments and are pushed over OTLP when
// metrics export is enabled.
package telemetry
