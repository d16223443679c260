// Package prometheus provides Prometheus collectors for mfakit metrics.
//
// [NewPrometheusExporter] accepts an [mfakit.Engine] and exposes an [http.Handler]
// that renders all mfakit counters and histograms in Prometheus text exposition format.
// Counter names are prefixed mfakit_*_total; the single histogram is
// mfakit_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
