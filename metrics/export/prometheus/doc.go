// Package prometheus renders authlab metrics for Prometheus scrapes.
//
// [NewPrometheusExporter] wraps an [authlab.Engine] and exposes an
// [http.Handler] producing text exposition format. Counter names are
// authlab_*_total, the histogram is authlab_verifier_latency_seconds, audit
// delivery is authlab_audit_events_total{outcome}, and engines add
// authlab_redis_up plus authlab_redis_ping_seconds from a live probe on
// each scrape.
//
// Nothing is registered in a global registry; callers mount the Handler.
package prometheus
