package prometheus

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/metrics/export/internaldefs"
)

// PrometheusExporter renders Engine counters, the verifier latency
// histogram, audit delivery and redis health in Prometheus text format.
type PrometheusExporter struct {
	source internaldefs.Source
	health internaldefs.HealthSource
}

// NewPrometheusExporter reads from engine on every scrape.
func NewPrometheusExporter(engine *authlab.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

// NewPrometheusExporterFromSource reads from any snapshot source, such as a
// test fake. Redis series are rendered when source is also a HealthSource.
func NewPrometheusExporterFromSource(source internaldefs.Source) *PrometheusExporter {
	p := &PrometheusExporter{source: source}
	p.health, _ = source.(internaldefs.HealthSource)
	return p
}

// Handler serves the rendered metrics. Mount it on /metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.render(r.Context())))
	})
}

// Render returns the exposition text, or "" when there is nothing to
// report.
func (p *PrometheusExporter) Render() string {
	return p.render(context.Background())
}

func (p *PrometheusExporter) render(ctx context.Context) string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	audit := p.source.AuditStats()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && audit == (authlab.AuditStats{}) && p.health == nil {
		return ""
	}

	w := expositionWriter{}
	w.b.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		w.header(def.Name, def.Help, "counter")
		w.sample(def.Name, "", "", strconv.FormatUint(snapshot.Counters[def.ID], 10))
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.Buckets(snapshot.Histograms[def.ID])
		w.header(def.Name, def.Help, "histogram")
		for _, bucket := range buckets {
			w.sample(def.Name+"_bucket", "le", bucket.LE, strconv.FormatUint(bucket.Count, 10))
		}
		w.sample(def.Name+"_count", "", "", strconv.FormatUint(buckets[len(buckets)-1].Count, 10))
		// Snapshots carry bucket counts only.
		w.sample(def.Name+"_sum", "", "", "0")
	}

	w.header(internaldefs.AuditEventsName, internaldefs.AuditEventsHelp, "counter")
	for _, out := range internaldefs.AuditOutcomes(audit) {
		w.sample(internaldefs.AuditEventsName, "outcome", out.Name, strconv.FormatUint(out.Value, 10))
	}

	if p.health != nil {
		status := p.health.Health(ctx)
		up := "0"
		if status.RedisAvailable {
			up = "1"
		}
		w.header(internaldefs.RedisUpName, internaldefs.RedisUpHelp, "gauge")
		w.sample(internaldefs.RedisUpName, "", "", up)
		w.header(internaldefs.RedisLatencyName, internaldefs.RedisLatencyHelp, "gauge")
		w.sample(internaldefs.RedisLatencyName, "", "", strconv.FormatFloat(status.RedisLatency.Seconds(), 'g', -1, 64))
	}

	return w.b.String()
}

type expositionWriter struct {
	b strings.Builder
}

func (w *expositionWriter) header(name, help, kind string) {
	w.b.WriteString("# HELP ")
	w.b.WriteString(name)
	w.b.WriteByte(' ')
	w.b.WriteString(escapeHelp(help))
	w.b.WriteString("\n# TYPE ")
	w.b.WriteString(name)
	w.b.WriteByte(' ')
	w.b.WriteString(kind)
	w.b.WriteByte('\n')
}

// sample writes one line. label may be empty for unlabelled series.
func (w *expositionWriter) sample(name, label, value, v string) {
	w.b.WriteString(name)
	if label != "" {
		w.b.WriteByte('{')
		w.b.WriteString(label)
		w.b.WriteString(`="`)
		w.b.WriteString(value)
		w.b.WriteString(`"}`)
	}
	w.b.WriteByte(' ')
	w.b.WriteString(v)
	w.b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
