// Package metrics collects Prometheus metrics for the gateway. This
// package is internal and should not be imported by external projects.
package metrics
