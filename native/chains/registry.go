// Package chains holds the static network and token tables the orchestration
// layer resolves contract addresses from.
package chains

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ChainID is an EIP-155 chain identifier.
type ChainID uint64

const (
	// Moonbeam is the default target network.
	Moonbeam ChainID = 1284
	// Base is the secondary network of the reference deployment.
	Base ChainID = 8453
)

var (
	// ErrUnsupportedChain is returned for chain ids missing from the registry.
	ErrUnsupportedChain = errors.New("chains: unsupported chain")
	// ErrUnknownToken is returned for symbols missing from the token table.
	ErrUnknownToken = errors.New("chains: unknown token")
)

// ChainDescriptor describes one supported network.
type ChainDescriptor struct {
	ID       ChainID `json:"id"`
	Name     string  `json:"name"`
	Logo     string  `json:"logo"`
	Explorer string  `json:"explorer"`
	// LendingPool is the pool router contract used when an action does not
	// name a pool of its own.
	LendingPool common.Address `json:"lendingPool"`
	Factory     common.Address `json:"factory"`
	Position    common.Address `json:"position"`
	// MessagingEndpointID identifies the network on the cross-chain
	// messaging layer.
	MessagingEndpointID uint32 `json:"messagingEndpointId"`
}

// TxURL returns the explorer link for a transaction hash.
func (c ChainDescriptor) TxURL(hash common.Hash) string {
	if c.Explorer == "" {
		return ""
	}
	return strings.TrimRight(c.Explorer, "/") + "/tx/" + hash.Hex()
}

// TokenDescriptor describes a token and its deployments.
type TokenDescriptor struct {
	Symbol    string                     `json:"symbol"`
	Name      string                     `json:"name"`
	Decimals  uint8                      `json:"decimals"`
	Addresses map[ChainID]common.Address `json:"addresses"`
	// OmnichainAddress is the omnichain transfer adapter, when one exists.
	OmnichainAddress *common.Address `json:"omnichainAddress,omitempty"`
}

// AddressOn returns the token deployment on the given chain.
func (t TokenDescriptor) AddressOn(id ChainID) (common.Address, bool) {
	addr, ok := t.Addresses[id]
	if !ok || addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

func (t TokenDescriptor) clone() TokenDescriptor {
	out := t
	out.Addresses = make(map[ChainID]common.Address, len(t.Addresses))
	for id, addr := range t.Addresses {
		out.Addresses[id] = addr
	}
	if t.OmnichainAddress != nil {
		addr := *t.OmnichainAddress
		out.OmnichainAddress = &addr
	}
	return out
}

// Registry is an immutable lookup table of chains and tokens. It is safe for
// concurrent use because nothing mutates it after construction.
type Registry struct {
	chains    map[ChainID]ChainDescriptor
	order     []ChainID
	tokens    map[string]TokenDescriptor
	defaultID ChainID
}

// New validates the supplied tables and builds a registry.
func New(chainList []ChainDescriptor, tokenList []TokenDescriptor, defaultID ChainID) (*Registry, error) {
	if len(chainList) == 0 {
		return nil, fmt.Errorf("chains: at least one chain required")
	}
	reg := &Registry{
		chains:    make(map[ChainID]ChainDescriptor, len(chainList)),
		tokens:    make(map[string]TokenDescriptor, len(tokenList)),
		defaultID: defaultID,
	}
	for _, chain := range chainList {
		if chain.ID == 0 {
			return nil, fmt.Errorf("chains: chain id required for %q", chain.Name)
		}
		if _, dup := reg.chains[chain.ID]; dup {
			return nil, fmt.Errorf("chains: duplicate chain %d", chain.ID)
		}
		if strings.TrimSpace(chain.Name) == "" {
			return nil, fmt.Errorf("chains: name required for chain %d", chain.ID)
		}
		reg.chains[chain.ID] = chain
		reg.order = append(reg.order, chain.ID)
	}
	if _, ok := reg.chains[defaultID]; !ok {
		return nil, fmt.Errorf("%w: default %d", ErrUnsupportedChain, defaultID)
	}
	for _, token := range tokenList {
		key := normalizeSymbol(token.Symbol)
		if key == "" {
			return nil, fmt.Errorf("chains: token symbol required")
		}
		if _, dup := reg.tokens[key]; dup {
			return nil, fmt.Errorf("chains: duplicate token %s", key)
		}
		if token.Decimals > 77 {
			return nil, fmt.Errorf("chains: token %s decimals %d out of range", key, token.Decimals)
		}
		for id := range token.Addresses {
			if _, ok := reg.chains[id]; !ok {
				return nil, fmt.Errorf("%w: token %s deployed on %d", ErrUnsupportedChain, key, id)
			}
		}
		reg.tokens[key] = token.clone()
	}
	return reg, nil
}

// Chain returns the descriptor for id.
func (r *Registry) Chain(id ChainID) (ChainDescriptor, bool) {
	chain, ok := r.chains[id]
	return chain, ok
}

// MustChain returns the descriptor for id or ErrUnsupportedChain.
func (r *Registry) MustChain(id ChainID) (ChainDescriptor, error) {
	chain, ok := r.chains[id]
	if !ok {
		return ChainDescriptor{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, id)
	}
	return chain, nil
}

// IsSupported reports whether id is part of the deployment.
func (r *Registry) IsSupported(id ChainID) bool {
	_, ok := r.chains[id]
	return ok
}

// Chains lists descriptors in table order.
func (r *Registry) Chains() []ChainDescriptor {
	out := make([]ChainDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.chains[id])
	}
	return out
}

// Default returns the deployment's default network.
func (r *Registry) Default() ChainDescriptor {
	return r.chains[r.defaultID]
}

// Token looks up a token by symbol, case-insensitively.
func (r *Registry) Token(symbol string) (TokenDescriptor, error) {
	token, ok := r.tokens[normalizeSymbol(symbol)]
	if !ok {
		return TokenDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return token.clone(), nil
}

// TokenByAddress finds the token deployed at addr on chain id.
func (r *Registry) TokenByAddress(id ChainID, addr common.Address) (TokenDescriptor, bool) {
	for _, token := range r.tokens {
		if deployed, ok := token.AddressOn(id); ok && deployed == addr {
			return token.clone(), true
		}
	}
	return TokenDescriptor{}, false
}

// Tokens lists all tokens sorted by symbol.
func (r *Registry) Tokens() []TokenDescriptor {
	out := make([]TokenDescriptor, 0, len(r.tokens))
	for _, token := range r.tokens {
		out = append(out, token.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
