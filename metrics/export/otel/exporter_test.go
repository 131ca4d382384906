package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	authlab "github.com/ksm067300-arch/auth-lab"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authlab.MetricsSnapshot
	audit    authlab.AuditStats
}

func (f *fakeSource) MetricsSnapshot() authlab.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authlab.MetricsSnapshot{
		Counters:   make(map[authlab.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authlab.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditStats() authlab.AuditStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.audit
}

type healthySource struct {
	fakeSource
}

func (h *healthySource) Health(context.Context) authlab.HealthStatus {
	return authlab.HealthStatus{RedisAvailable: true, RedisLatency: 2 * time.Millisecond}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authlab-test")

	src := &fakeSource{
		snapshot: authlab.MetricsSnapshot{
			Counters: map[authlab.MetricID]uint64{
				authlab.MetricLoginSuccess: 3,
			},
			Histograms: map[authlab.MetricID][]uint64{
				authlab.MetricVerifierLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		audit:    authlab.AuditStats{Dropped: 1},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authlab-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authlab-test")

	src := &fakeSource{
		snapshot: authlab.MetricsSnapshot{
			Counters: map[authlab.MetricID]uint64{
				authlab.MetricLoginSuccess: 1,
			},
			Histograms: map[authlab.MetricID][]uint64{
				authlab.MetricVerifierLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authlab.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestExporterObservesCounterValues(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authlab-test")

	src := &fakeSource{
		snapshot: authlab.MetricsSnapshot{
			Counters: map[authlab.MetricID]uint64{
				authlab.MetricTwoFactorSuccess: 4,
				authlab.MetricCodeReplayed:     2,
			},
			Histograms: map[authlab.MetricID][]uint64{},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				got[m.Name] = sum.DataPoints[0].Value
			}
		}
	}
	if got["authlab_two_factor_success_total"] != 4 {
		t.Fatalf("expected two_factor_success 4, got %d", got["authlab_two_factor_success_total"])
	}
	if got["authlab_code_replayed_total"] != 2 {
		t.Fatalf("expected code_replayed 2, got %d", got["authlab_code_replayed_total"])
	}
}

func TestExporterLabelsHistogramBuckets(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src := &fakeSource{
		snapshot: authlab.MetricsSnapshot{
			Counters: map[authlab.MetricID]uint64{},
			Histograms: map[authlab.MetricID][]uint64{
				authlab.MetricVerifierLatency: {2, 0, 1, 0, 0, 0, 0, 3},
			},
		},
	}
	exp, err := NewOTelExporterFromSource(provider.Meter("authlab-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	gauge, ok := got["authlab_verifier_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("expected bucket gauge")
	}
	byLE := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		byLE[le.AsString()] = dp.Value
	}
	if byLE["0.005"] != 2 || byLE["0.025"] != 3 || byLE["+Inf"] != 6 {
		t.Fatalf("unexpected buckets %v", byLE)
	}

	count, ok := got["authlab_verifier_latency_seconds_count"].Data.(metricdata.Gauge[int64])
	if !ok || len(count.DataPoints) != 1 || count.DataPoints[0].Value != 6 {
		t.Fatalf("unexpected count %+v", got["authlab_verifier_latency_seconds_count"].Data)
	}
}

func TestExporterLabelsAuditOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src := &fakeSource{
		snapshot: authlab.MetricsSnapshot{Counters: map[authlab.MetricID]uint64{}},
		audit:    authlab.AuditStats{Delivered: 9, Dropped: 2, Failed: 1},
	}
	exp, err := NewOTelExporterFromSource(provider.Meter("authlab-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	sum, ok := got["authlab_audit_events_total"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected audit counter")
	}
	byOutcome := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		byOutcome[v.AsString()] = dp.Value
	}
	if byOutcome["delivered"] != 9 || byOutcome["dropped"] != 2 || byOutcome["failed"] != 1 {
		t.Fatalf("unexpected outcomes %v", byOutcome)
	}
	if _, ok := got["authlab_redis_up"]; ok {
		t.Fatal("redis gauges need a health source")
	}
}

func TestExporterObservesRedisHealth(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src := &healthySource{fakeSource{snapshot: authlab.MetricsSnapshot{Counters: map[authlab.MetricID]uint64{}}}}
	exp, err := NewOTelExporterFromSource(provider.Meter("authlab-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	up, ok := got["authlab_redis_up"].Data.(metricdata.Gauge[int64])
	if !ok || len(up.DataPoints) != 1 || up.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected redis_up %+v", got["authlab_redis_up"].Data)
	}
	lat, ok := got["authlab_redis_ping_seconds"].Data.(metricdata.Gauge[float64])
	if !ok || len(lat.DataPoints) != 1 || lat.DataPoints[0].Value != 0.002 {
		t.Fatalf("unexpected redis latency %+v", got["authlab_redis_ping_seconds"].Data)
	}
}
