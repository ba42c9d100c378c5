package guard

import "omnipool/observability"

// Metrics exposes Prometheus collectors for the gate.
type Metrics = observability.GuardMetrics

// NewMetrics returns a lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Guard() }
