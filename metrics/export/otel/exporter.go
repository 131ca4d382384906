package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type observedCounter struct {
	id         authlab.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      authlab.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter keeps the callback registration alive until Close.
type OTelExporter struct {
	source       internaldefs.Source
	health       internaldefs.HealthSource
	registration metric.Registration

	counters     []observedCounter
	histograms   []observedHistogram
	auditEvents  metric.Int64ObservableCounter
	redisUp      metric.Int64ObservableGauge
	redisLatency metric.Float64ObservableGauge
}

func NewOTelExporter(meter metric.Meter, engine *authlab.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments for every exported series
// and one callback that reads source on each collection. Redis probes are
// observed only when source also implements internaldefs.HealthSource.
func NewOTelExporterFromSource(meter metric.Meter, source internaldefs.Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	e.health, _ = source.(internaldefs.HealthSource)

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound, labelled le."))
		if err != nil {
			return nil, fmt.Errorf("create histogram buckets %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name + "_count")
		if err != nil {
			return nil, fmt.Errorf("create histogram count %s: %w", def.Name, err)
		}
		e.histograms = append(e.histograms, observedHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	var err error
	e.auditEvents, err = meter.Int64ObservableCounter(internaldefs.AuditEventsName,
		metric.WithDescription(internaldefs.AuditEventsHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit counter: %w", err)
	}
	observables = append(observables, e.auditEvents)

	if e.health != nil {
		e.redisUp, err = meter.Int64ObservableGauge(internaldefs.RedisUpName,
			metric.WithDescription(internaldefs.RedisUpHelp))
		if err != nil {
			return nil, fmt.Errorf("create redis up gauge: %w", err)
		}
		e.redisLatency, err = meter.Float64ObservableGauge(internaldefs.RedisLatencyName,
			metric.WithDescription(internaldefs.RedisLatencyHelp), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("create redis latency gauge: %w", err)
		}
		observables = append(observables, e.redisUp, e.redisLatency)
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(ctx context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}

	for _, h := range e.histograms {
		buckets := internaldefs.Buckets(snapshot.Histograms[h.id])
		for _, b := range buckets {
			o.ObserveInt64(h.buckets, int64(b.Count), metric.WithAttributes(attribute.String("le", b.LE)))
		}
		o.ObserveInt64(h.count, int64(buckets[len(buckets)-1].Count))
	}

	for _, out := range internaldefs.AuditOutcomes(e.source.AuditStats()) {
		o.ObserveInt64(e.auditEvents, int64(out.Value), metric.WithAttributes(attribute.String("outcome", out.Name)))
	}

	if e.health != nil {
		status := e.health.Health(ctx)
		var up int64
		if status.RedisAvailable {
			up = 1
		}
		o.ObserveInt64(e.redisUp, up)
		o.ObserveFloat64(e.redisLatency, status.RedisLatency.Seconds())
	}
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
