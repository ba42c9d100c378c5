package indexer

import "omnipool/observability"

// Metrics exposes Prometheus collectors for indexer queries.
type Metrics = observability.IndexerMetrics

// NewMetrics returns a lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Indexer() }
