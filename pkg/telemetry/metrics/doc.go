// Package metrics provides Prometheus metrics for the screening pipeline.
//
// # Metrics Categories
//
//   - Request Metrics: requests by operation and verdict, stage latency
//   - Extractor Metrics: L3 attempts, fallbacks and batch calls
//   - Cache Metrics: capability cache hits, misses, size and evictions
//   - Cost Metrics: LLM calls and tokens by provider, model and agent
//   - Policy Metrics: snapshot resolutions and findings by source
//
// # Usage
//
// A single Collector is passed to every component that reports measurements:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	extractor := llm.NewExtractor(model, l3cfg,
//		llm.WithObserver(collector),
//		llm.WithLedger(collector),
//	)
//	p := pipeline.New(stages, pipeline.WithObserver(collector))
//	sweeper.OnSweep(collector.ObserveSweep)
//
//	http.Handle("/metrics", collector.Handler())
//
// # Cardinality
//
// Agent ids and finding categories come from callers and policies. Each is
// capped by a CardinalityLimiter; values past the cap are reported as
// "other".
package metrics
