// Package otel binds authlab metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter, a
// bucket gauge labelled le plus a count gauge per histogram, and an audit
// counter labelled outcome. Engines also get redis liveness gauges. A single
// callback reads the source on each collection. Callers own the
// MeterProvider.
package otel
