package txflow

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
)

// Relay carries a call to another chain through the cross-chain messaging
// layer. It follows the same two steps as a ContractCaller: a dispatch that
// yields an identifier, then a wait for delivery on the destination.
type Relay interface {
	Dispatch(ctx context.Context, call Call, destination chains.ChainID) (common.Hash, error)
	AwaitDelivery(ctx context.Context, id common.Hash) (Confirmation, error)
}

// DefaultRelayDelay is the delivery time SimulatedRelay reports.
const DefaultRelayDelay = 2 * time.Second

// SimulatedRelay pretends every dispatch is delivered after Delay. It is a
// development stand-in until a messaging endpoint is wired in and must be
// enabled explicitly.
type SimulatedRelay struct {
	Delay time.Duration

	mu      sync.Mutex
	pending map[common.Hash]chains.ChainID
}

// NewSimulatedRelay returns a relay with the given delay.
func NewSimulatedRelay(delay time.Duration) *SimulatedRelay {
	if delay <= 0 {
		delay = DefaultRelayDelay
	}
	return &SimulatedRelay{Delay: delay, pending: make(map[common.Hash]chains.ChainID)}
}

// Dispatch issues a random 32-byte message id.
func (r *SimulatedRelay) Dispatch(ctx context.Context, _ Call, destination chains.ChainID) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	var id common.Hash
	if _, err := rand.Read(id[:]); err != nil {
		return common.Hash{}, fmt.Errorf("txflow: relay id: %w", err)
	}
	r.mu.Lock()
	if r.pending == nil {
		r.pending = make(map[common.Hash]chains.ChainID)
	}
	r.pending[id] = destination
	r.mu.Unlock()
	return id, nil
}

// AwaitDelivery waits Delay and reports success for known ids.
func (r *SimulatedRelay) AwaitDelivery(ctx context.Context, id common.Hash) (Confirmation, error) {
	r.mu.Lock()
	_, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return Confirmation{}, fmt.Errorf("txflow: unknown relay message %s", id.Hex())
	}

	timer := time.NewTimer(r.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Confirmation{}, ctx.Err()
	case <-timer.C:
	}

	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
	return Confirmation{Hash: id, Success: true}, nil
}
