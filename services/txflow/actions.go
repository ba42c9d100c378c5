package txflow

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
	"omnipool/native/lending"
)

// Action names a user-facing operation.
type Action string

const (
	ActionSupplyLiquidity    Action = "supply-liquidity"
	ActionSupplyCollateral   Action = "supply-collateral"
	ActionBorrow             Action = "borrow"
	ActionRepay              Action = "repay"
	ActionRepayByCollateral  Action = "repay-by-collateral"
	ActionWithdrawCollateral Action = "withdraw-collateral"
	ActionWithdrawLiquidity  Action = "withdraw-liquidity"
	ActionSwap               Action = "swap"
	ActionCreatePool         Action = "create-pool"
)

// Role selects which contract an action calls.
type Role int

const (
	RolePool Role = iota
	RoleFactory
	RolePosition
)

func (r Role) String() string {
	switch r {
	case RoleFactory:
		return "factory"
	case RolePosition:
		return "position"
	default:
		return "pool"
	}
}

// Completion decides when the completion callback runs.
type Completion int

const (
	// AutoComplete runs the callback as soon as the call confirms.
	AutoComplete Completion = iota
	// ManualComplete runs the callback when the user dismisses the result.
	ManualComplete
)

// ActionConfig is the fixed behaviour of one action.
type ActionConfig struct {
	Action     Action
	Method     string
	Role       Role
	Completion Completion
	// KeepSuccess preserves the success flag across Dismiss so a persistent
	// indicator can stay visible.
	KeepSuccess bool
	// CrossChain allows dispatch through a Relay when the destination chain
	// differs from the active one.
	CrossChain bool
	// Shares converts the token amount into borrow shares before submitting.
	Shares         bool
	RequiresAmount bool
	// Fallback is shown for failures no rule recognises.
	Fallback string
}

var actionConfigs = map[Action]ActionConfig{
	ActionSupplyLiquidity: {
		Action: ActionSupplyLiquidity, Method: "supplyLiquidity", Role: RolePool,
		Completion: AutoComplete, KeepSuccess: true, RequiresAmount: true,
		Fallback: "Failed to supply liquidity. Please try again.",
	},
	ActionSupplyCollateral: {
		Action: ActionSupplyCollateral, Method: "supplyCollateral", Role: RolePool,
		Completion: AutoComplete, KeepSuccess: true, RequiresAmount: true,
		Fallback: "Failed to supply collateral. Please try again.",
	},
	ActionBorrow: {
		Action: ActionBorrow, Method: "borrowDebt", Role: RolePool,
		Completion: AutoComplete, CrossChain: true, RequiresAmount: true,
		Fallback: "Failed to borrow. Please try again.",
	},
	ActionRepay: {
		Action: ActionRepay, Method: "repayDebt", Role: RolePool,
		Completion: AutoComplete, RequiresAmount: true,
		Fallback: "Failed to repay. Please try again.",
	},
	ActionRepayByCollateral: {
		Action: ActionRepayByCollateral, Method: "repayWithCollateral", Role: RolePool,
		Completion: AutoComplete, Shares: true, RequiresAmount: true,
		Fallback: "Failed to repay with collateral. Please try again.",
	},
	ActionWithdrawCollateral: {
		Action: ActionWithdrawCollateral, Method: "withdrawCollateral", Role: RolePool,
		Completion: ManualComplete, RequiresAmount: true,
		Fallback: "Failed to withdraw collateral. Please try again.",
	},
	ActionWithdrawLiquidity: {
		Action: ActionWithdrawLiquidity, Method: "withdrawLiquidity", Role: RolePool,
		Completion: ManualComplete, RequiresAmount: true,
		Fallback: "Failed to withdraw liquidity. Please try again.",
	},
	ActionSwap: {
		Action: ActionSwap, Method: "swapTokenByPosition", Role: RolePosition,
		Completion: ManualComplete, RequiresAmount: true,
		Fallback: "Swap failed. Please try again.",
	},
	ActionCreatePool: {
		Action: ActionCreatePool, Method: "createLendingPool", Role: RoleFactory,
		Completion: AutoComplete, KeepSuccess: true,
		Fallback: "Failed to create the lending pool. Please try again.",
	},
}

// ConfigFor returns the configuration of action.
func ConfigFor(action Action) (ActionConfig, error) {
	cfg, ok := actionConfigs[action]
	if !ok {
		return ActionConfig{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return cfg, nil
}

// ParseAction resolves a user supplied action name.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := actionConfigs[action]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
	return action, nil
}

// Actions lists every known action in name order.
func Actions() []Action {
	out := make([]Action, 0, len(actionConfigs))
	for action := range actionConfigs {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Params are the caller inputs of one submission. Only the fields the action
// uses are read.
type Params struct {
	// Amount is the user-entered decimal string, scaled by Decimals.
	Amount   string
	Decimals uint8
	// Pool is the lending pool contract for pool-role actions.
	Pool common.Address
	// Position overrides the registry position contract for swaps.
	Position common.Address
	// DestinationChain is the borrow destination; zero means the active chain.
	DestinationChain chains.ChainID
	// Totals are the pool's running totals used for share conversion.
	Totals *lending.PoolTotals
	// CollateralToken is the collateral used by repay-by-collateral and the
	// collateral side of a new pool.
	CollateralToken common.Address
	// BorrowToken is the debt side of a new pool.
	BorrowToken common.Address
	// LTV is the 1e18-scaled loan-to-value ratio of a new pool.
	LTV *big.Int
	// TokenIn and TokenOut are the swap legs.
	TokenIn  common.Address
	TokenOut common.Address
	// OnComplete runs once per successful attempt according to the action's
	// completion policy.
	OnComplete func(Outcome)
}

// prepared is a validated submission.
type prepared struct {
	call        Call
	amount      *big.Int
	shares      *big.Int
	destination chains.ChainID
	crossChain  bool
}

func precondition(format string, args ...any) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// resolveContract picks the target contract for cfg on chain.
func resolveContract(cfg ActionConfig, chain chains.ChainDescriptor, params Params) (common.Address, error) {
	var addr common.Address
	switch cfg.Role {
	case RoleFactory:
		addr = chain.Factory
	case RolePosition:
		addr = params.Position
		if addr == (common.Address{}) {
			addr = chain.Position
		}
	default:
		addr = params.Pool
	}
	if addr == (common.Address{}) {
		if cfg.Role == RolePool {
			return common.Address{}, precondition("Pool address is required")
		}
		return common.Address{}, precondition("No %s contract configured on %s", cfg.Role, chain.Name)
	}
	return addr, nil
}

// buildArgs lays out the ABI arguments of cfg.Method.
func buildArgs(cfg ActionConfig, p prepared, params Params, dest chains.ChainDescriptor) ([]any, error) {
	switch cfg.Action {
	case ActionBorrow:
		return []any{p.amount, new(big.Int).SetUint64(uint64(dest.ID)), dest.MessagingEndpointID}, nil
	case ActionRepayByCollateral:
		if params.CollateralToken == (common.Address{}) {
			return nil, precondition("Collateral token is required")
		}
		return []any{p.shares, params.CollateralToken}, nil
	case ActionSwap:
		if params.TokenIn == (common.Address{}) || params.TokenOut == (common.Address{}) {
			return nil, precondition("Both swap tokens are required")
		}
		if params.TokenIn == params.TokenOut {
			return nil, precondition("Swap tokens must differ")
		}
		return []any{params.TokenIn, params.TokenOut, p.amount}, nil
	case ActionCreatePool:
		if params.CollateralToken == (common.Address{}) || params.BorrowToken == (common.Address{}) {
			return nil, precondition("Collateral and borrow tokens are required")
		}
		if params.CollateralToken == params.BorrowToken {
			return nil, precondition("Collateral and borrow tokens must differ")
		}
		if err := lending.ValidateLTV(params.LTV); err != nil {
			return nil, precondition("Loan-to-value must be between 0 and 100%%")
		}
		return []any{params.CollateralToken, params.BorrowToken, new(big.Int).Set(params.LTV)}, nil
	default:
		return []any{p.amount}, nil
	}
}
