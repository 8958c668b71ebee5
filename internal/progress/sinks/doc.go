// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and a publisher that announces completed dates.
package sinks
