// Package sinks implements progress consumers: structured logging and
// Prometheus run counters. Each sink satisfies progress.Sink and tolerates
// repeated Consume/Close cycles.
package sinks
