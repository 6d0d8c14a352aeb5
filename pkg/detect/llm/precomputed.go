package llm

import "datasentry-hq/sentry/pkg/pipeline"

// AttachPrecomputed stores per-rule results produced by an upstream batch
// stage. The detection stage uses them instead of calling the extractor.
func AttachPrecomputed(pc *pipeline.Context, results map[int64]Result) {
	if pc.Metadata == nil {
		pc.Metadata = make(map[string]any)
	}
	pc.Metadata[pipeline.MetaPrecomputedL3Results] = results
}

// PrecomputedFromContext returns the precomputed results, if any were attached.
func PrecomputedFromContext(pc *pipeline.Context) (map[int64]Result, bool) {
	results, ok := pc.Metadata[pipeline.MetaPrecomputedL3Results].(map[int64]Result)
	return results, ok
}
