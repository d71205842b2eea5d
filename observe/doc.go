// Package observe provides logging and metrics for the execution core.
//
// It is a pure instrumentation layer: no execution, no transport. The
// dispatcher and scheduler take a Logger and Metrics through their configs;
// both default to no-ops. Metrics are recorded through the OpenTelemetry
// metric API against a caller-supplied MeterProvider, so exporter wiring
// stays with the application.
package observe
