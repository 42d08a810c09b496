// Package metrics exposes limiter state and admission decisions to
// Prometheus.
//
// Collector reads per-partition statistics at scrape time, so gauges always
// reflect the current window without any bookkeeping on the request path:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector("slidewin", partitions))
//
// Recorder counts middleware decisions and how long they took, including
// time spent waiting in a queue:
//
//	rec := metrics.NewRecorder("slidewin", reg)
//	middleware.RateLimiter(partitions, keyFunc, middleware.WithObserver(rec))
package metrics
