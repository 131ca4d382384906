// Package internaldefs holds the metric names, help strings, bucket labels
// and source interfaces shared by the Prometheus and OpenTelemetry
// exporters, so both emit identical series.
package internaldefs
