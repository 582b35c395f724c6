// Package metrics provides Prometheus metrics for the broker.
package metrics
