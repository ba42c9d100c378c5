package txflow

import "omnipool/observability"

// Metrics exposes Prometheus collectors for the controllers.
type Metrics = observability.TxFlowMetrics

// NewMetrics returns a lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.TxFlow() }
