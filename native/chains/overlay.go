package chains

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Overlay is the on-disk form of deployment specific registry data. Entries
// whose id (or symbol) matches a built-in entry override its non-empty fields;
// others are appended.
type Overlay struct {
	DefaultChain uint64       `toml:"default_chain"`
	Chains       []ChainEntry `toml:"chains"`
	Tokens       []TokenEntry `toml:"tokens"`
}

// ChainEntry mirrors ChainDescriptor with string addresses.
type ChainEntry struct {
	ID                  uint64 `toml:"id"`
	Name                string `toml:"name"`
	Logo                string `toml:"logo"`
	Explorer            string `toml:"explorer"`
	LendingPool         string `toml:"lending_pool"`
	Factory             string `toml:"factory"`
	Position            string `toml:"position"`
	MessagingEndpointID uint32 `toml:"messaging_endpoint_id"`
}

// TokenEntry mirrors TokenDescriptor with string addresses keyed by chain id.
type TokenEntry struct {
	Symbol           string            `toml:"symbol"`
	Name             string            `toml:"name"`
	Decimals         *uint8            `toml:"decimals"`
	Addresses        map[string]string `toml:"addresses"`
	OmnichainAddress string            `toml:"omnichain_address"`
}

// LoadOverlay reads a TOML overlay file and applies it on top of the built-in
// tables. An empty path returns the built-in registry.
func LoadOverlay(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	var overlay Overlay
	meta, err := toml.DecodeFile(path, &overlay)
	if err != nil {
		return nil, fmt.Errorf("decode registry overlay: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("registry overlay %s: unknown key %s", path, undecoded[0].String())
	}
	return overlay.Apply(defaultChains, defaultTokens, Moonbeam)
}

// Apply merges the overlay into the supplied base tables.
func (o Overlay) Apply(baseChains []ChainDescriptor, baseTokens []TokenDescriptor, baseDefault ChainID) (*Registry, error) {
	chainList := make([]ChainDescriptor, len(baseChains))
	copy(chainList, baseChains)
	index := make(map[ChainID]int, len(chainList))
	for i, c := range chainList {
		index[c.ID] = i
	}
	for _, entry := range o.Chains {
		id := ChainID(entry.ID)
		desc := ChainDescriptor{ID: id}
		pos, exists := index[id]
		if exists {
			desc = chainList[pos]
		}
		if err := entry.applyTo(&desc); err != nil {
			return nil, err
		}
		if exists {
			chainList[pos] = desc
			continue
		}
		index[id] = len(chainList)
		chainList = append(chainList, desc)
	}

	tokenList := make([]TokenDescriptor, 0, len(baseTokens)+len(o.Tokens))
	tokenIndex := make(map[string]int, len(baseTokens))
	for _, t := range baseTokens {
		tokenIndex[normalizeSymbol(t.Symbol)] = len(tokenList)
		tokenList = append(tokenList, t.clone())
	}
	for _, entry := range o.Tokens {
		key := normalizeSymbol(entry.Symbol)
		desc := TokenDescriptor{Symbol: key, Addresses: map[ChainID]common.Address{}}
		pos, exists := tokenIndex[key]
		if exists {
			desc = tokenList[pos]
		} else if entry.Decimals == nil {
			return nil, fmt.Errorf("registry overlay: token %s requires decimals", key)
		}
		if err := entry.applyTo(&desc); err != nil {
			return nil, err
		}
		if exists {
			tokenList[pos] = desc
			continue
		}
		tokenIndex[key] = len(tokenList)
		tokenList = append(tokenList, desc)
	}

	defaultID := baseDefault
	if o.DefaultChain != 0 {
		defaultID = ChainID(o.DefaultChain)
	}
	return New(chainList, tokenList, defaultID)
}

func (e ChainEntry) applyTo(desc *ChainDescriptor) error {
	if e.ID == 0 {
		return fmt.Errorf("registry overlay: chain id required")
	}
	if e.Name != "" {
		desc.Name = e.Name
	}
	if e.Logo != "" {
		desc.Logo = e.Logo
	}
	if e.Explorer != "" {
		desc.Explorer = e.Explorer
	}
	if e.MessagingEndpointID != 0 {
		desc.MessagingEndpointID = e.MessagingEndpointID
	}
	for _, field := range []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"lending_pool", e.LendingPool, &desc.LendingPool},
		{"factory", e.Factory, &desc.Factory},
		{"position", e.Position, &desc.Position},
	} {
		if field.raw == "" {
			continue
		}
		addr, err := parseAddress(field.raw)
		if err != nil {
			return fmt.Errorf("registry overlay: chain %d %s: %w", e.ID, field.name, err)
		}
		*field.dst = addr
	}
	return nil
}

func (e TokenEntry) applyTo(desc *TokenDescriptor) error {
	if e.Name != "" {
		desc.Name = e.Name
	}
	if e.Decimals != nil {
		desc.Decimals = *e.Decimals
	}
	if desc.Addresses == nil {
		desc.Addresses = map[ChainID]common.Address{}
	}
	for rawID, rawAddr := range e.Addresses {
		id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 64)
		if err != nil {
			return fmt.Errorf("registry overlay: token %s chain %q: %w", desc.Symbol, rawID, err)
		}
		addr, err := parseAddress(rawAddr)
		if err != nil {
			return fmt.Errorf("registry overlay: token %s on %d: %w", desc.Symbol, id, err)
		}
		desc.Addresses[ChainID(id)] = addr
	}
	if e.OmnichainAddress != "" {
		addr, err := parseAddress(e.OmnichainAddress)
		if err != nil {
			return fmt.Errorf("registry overlay: token %s omnichain address: %w", desc.Symbol, err)
		}
		desc.OmnichainAddress = &addr
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}
