// Package telemetry initializes OpenTelemetry trace providers with OTLP
// gRPC export. When telemetry is disabled the providers are no-ops, so
// callers never branch on configuration.
package telemetry
