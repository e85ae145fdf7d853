// Package metrics provides Prometheus metrics for bilisub.
package metrics
