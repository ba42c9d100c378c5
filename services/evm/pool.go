package evm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"omnipool/native/chains"
)

// Pool lazily dials one RPC client per chain and reuses it.
type Pool struct {
	endpoints map[chains.ChainID]string

	mu      sync.Mutex
	clients map[chains.ChainID]*ethclient.Client
}

// NewPool returns a pool over the given endpoints.
func NewPool(endpoints map[chains.ChainID]string) *Pool {
	copied := make(map[chains.ChainID]string, len(endpoints))
	for id, url := range endpoints {
		copied[id] = strings.TrimSpace(url)
	}
	return &Pool{endpoints: copied, clients: make(map[chains.ChainID]*ethclient.Client)}
}

// Client returns the client for id, dialing it on first use.
func (p *Pool) Client(ctx context.Context, id chains.ChainID) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[id]; ok {
		return client, nil
	}
	url := p.endpoints[id]
	if url == "" {
		return nil, fmt.Errorf("evm: no rpc endpoint configured for chain %d", id)
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("evm: dial chain %d: %w", id, err)
	}
	p.clients[id] = client
	return client, nil
}

// Backend adapts Client to BackendSource.
func (p *Pool) Backend(ctx context.Context, id chains.ChainID) (Backend, error) {
	client, err := p.Client(ctx, id)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Close closes every dialed client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, client := range p.clients {
		client.Close()
		delete(p.clients, id)
	}
}
