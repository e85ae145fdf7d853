// Package telemetry sets up OpenTelemetry tracing for bilisub.
package telemetry
