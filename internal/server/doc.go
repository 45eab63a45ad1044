// Package server implements the monitoring HTTP API: health, live
// sessions and their readings, aggregated decoding statistics, the
// effective configuration and Prometheus metrics.
package server
