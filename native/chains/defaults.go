package chains

import "github.com/ethereum/go-ethereum/common"

// Built-in network table. Contract addresses are left empty here and supplied
// per deployment through the TOML overlay (see LoadOverlay).
var defaultChains = []ChainDescriptor{
	{
		ID:                  Moonbeam,
		Name:                "Moonbeam",
		Logo:                "/chains/moonbeam.svg",
		Explorer:            "https://moonscan.io",
		MessagingEndpointID: 30126,
	},
	{
		ID:                  Base,
		Name:                "Base",
		Logo:                "/chains/base.svg",
		Explorer:            "https://basescan.org",
		MessagingEndpointID: 30184,
	},
}

var defaultTokens = []TokenDescriptor{
	{
		Symbol:   "USDC",
		Name:     "USD Coin",
		Decimals: 6,
		Addresses: map[ChainID]common.Address{
			Base: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		},
	},
	{
		Symbol:    "USDT",
		Name:      "Tether USD",
		Decimals:  6,
		Addresses: map[ChainID]common.Address{},
	},
	{
		Symbol:   "WETH",
		Name:     "Wrapped Ether",
		Decimals: 18,
		Addresses: map[ChainID]common.Address{
			Base: common.HexToAddress("0x4200000000000000000000000000000000000006"),
		},
	},
	{
		Symbol:   "WGLMR",
		Name:     "Wrapped GLMR",
		Decimals: 18,
		Addresses: map[ChainID]common.Address{
			Moonbeam: common.HexToAddress("0xAcc15dC74880C9944775448304B263D191c6077F"),
		},
	},
}

// Default returns the reference deployment registry (Moonbeam default, Base
// secondary).
func Default() *Registry {
	reg, err := New(defaultChains, defaultTokens, Moonbeam)
	if err != nil {
		panic("chains: invalid built-in registry: " + err.Error())
	}
	return reg
}
