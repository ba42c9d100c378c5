package indexer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
	"omnipool/native/lending"
)

// Fallback wraps a Source so query failures degrade to defaults (an empty
// pool list, a zero APY) plus a log line instead of an error. When the pool
// totals were seen by an earlier listing, a missing APY is estimated from
// them with the configured rate curve.
type Fallback struct {
	source     Source
	curve      *lending.RateCurve
	reserveBps uint64
	logger     *slog.Logger
	metrics    *Metrics

	mu     sync.RWMutex
	totals map[poolKey]lending.PoolTotals
}

type poolKey struct {
	chain chains.ChainID
	pool  common.Address
}

// FallbackOption customises the wrapper.
type FallbackOption func(*Fallback)

// WithEstimates enables local APY estimates from cached pool totals.
func WithEstimates(curve lending.RateCurve, reserveFactorBps uint64) FallbackOption {
	return func(f *Fallback) {
		f.curve = &curve
		f.reserveBps = reserveFactorBps
	}
}

// WithFallbackLogger overrides the default logger.
func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(f *Fallback) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFallbackMetrics attaches Prometheus collectors.
func WithFallbackMetrics(metrics *Metrics) FallbackOption {
	return func(f *Fallback) { f.metrics = metrics }
}

// NewFallback wraps source.
func NewFallback(source Source, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		source: source,
		logger: slog.Default(),
		totals: make(map[poolKey]lending.PoolTotals),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Pools never fails; an indexer error yields an empty list.
func (f *Fallback) Pools(ctx context.Context, chain chains.ChainID) ([]Pool, error) {
	pools, err := f.source.Pools(ctx, chain)
	if err != nil {
		f.logger.Warn("indexer unavailable, listing no pools",
			slog.Uint64("chain_id", uint64(chain)),
			slog.Any("error", err))
		f.metrics.RecordFallback("pools")
		return []Pool{}, nil
	}
	f.mu.Lock()
	for _, pool := range pools {
		f.totals[poolKey{chain: chain, pool: pool.Address}] = pool.Totals.Clone()
	}
	f.mu.Unlock()
	return pools, nil
}

// PoolAPY never fails; an indexer error yields an estimate or zero.
func (f *Fallback) PoolAPY(ctx context.Context, chain chains.ChainID, pool common.Address) (APY, error) {
	apy, err := f.source.PoolAPY(ctx, chain, pool)
	if err == nil {
		return apy, nil
	}
	f.metrics.RecordFallback("pool_apy")
	if f.curve != nil {
		f.mu.RLock()
		totals, ok := f.totals[poolKey{chain: chain, pool: pool}]
		f.mu.RUnlock()
		if ok {
			borrow, supply := lending.EstimateAPY(totals, *f.curve, f.reserveBps)
			f.logger.Warn("indexer unavailable, estimating apy",
				slog.Uint64("chain_id", uint64(chain)),
				slog.String("pool", pool.Hex()),
				slog.Any("error", err))
			return APY{Supply: supply, Borrow: borrow, Estimated: true}, nil
		}
	}
	f.logger.Warn("indexer unavailable, reporting zero apy",
		slog.Uint64("chain_id", uint64(chain)),
		slog.String("pool", pool.Hex()),
		slog.Any("error", err))
	return APY{}, nil
}

// Invalidate forgets the cached totals of pool, typically after an action
// changed them on chain. Estimates for it resume after the next listing.
func (f *Fallback) Invalidate(chain chains.ChainID, pool common.Address) {
	f.mu.Lock()
	delete(f.totals, poolKey{chain: chain, pool: pool})
	f.mu.Unlock()
}
