package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// lendingABI covers the pool, factory and position entry points the
// orchestration layer writes to.
const lendingABI = `[
  {"type":"function","name":"supplyLiquidity","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"supplyCollateral","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"borrowDebt","stateMutability":"payable","inputs":[{"name":"amount","type":"uint256"},{"name":"chainId","type":"uint256"},{"name":"dstEid","type":"uint32"}],"outputs":[]},
  {"type":"function","name":"repayDebt","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"repayWithCollateral","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"},{"name":"collateralToken","type":"address"}],"outputs":[]},
  {"type":"function","name":"withdrawCollateral","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"withdrawLiquidity","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"swapTokenByPosition","stateMutability":"nonpayable","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"createLendingPool","stateMutability":"nonpayable","inputs":[{"name":"collateralToken","type":"address"},{"name":"borrowToken","type":"address"},{"name":"ltv","type":"uint256"}],"outputs":[{"name":"pool","type":"address"}]}
]`

// LendingABI returns the parsed contract interface.
func LendingABI() abi.ABI { return parsedLendingABI }

var parsedLendingABI = mustParseABI(lendingABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("evm: invalid embedded abi: " + err.Error())
	}
	return parsed
}
