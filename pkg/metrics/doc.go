/*
Package metrics declares midden's Prometheus instrumentation: cache
hit/miss and object lifecycle counters, per-volume occupancy gauges,
restoration and sweep-cycle latency histograms, and the restore queue
depth. Everything registers on the default registry, so the standard
promhttp handler serves it. Durations are observed with
prometheus.NewTimer at the call sites.
*/
package metrics
