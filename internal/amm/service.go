/*

External AMM collaborator surface. The engine consumes quoting, swapping and
tick-ranged liquidity management from an AMM it does not implement; every
call either completes in full or returns an error with no effect, per the
atomic transaction substrate the engine runs on.

*/

package amm

import (
	"errors"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/daoleno/uniswapv3-sdk/utils"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kfund-labs/uniliq/internal/types"
)

var (
	ErrPoolNotFound     = errors.New("pool does not exist")
	ErrPositionNotFound = errors.New("position does not exist")
	ErrInvalidTickRange = errors.New("tick range is invalid")
	ErrInvalidAmount    = errors.New("amount is invalid")
)

// MintResult reports a newly opened position.
type MintResult struct {
	TokenID   uint64
	Pool      common.Address
	Liquidity sdkmath.Int
	Amount0   sdkmath.Int // token0 actually consumed
	Amount1   sdkmath.Int // token1 actually consumed
}

// LiquidityChange reports a liquidity increase or decrease.
type LiquidityChange struct {
	Liquidity sdkmath.Int // liquidity added or removed
	Amount0   sdkmath.Int
	Amount1   sdkmath.Int
}

// Collected reports harvested position fees and decrease proceeds.
type Collected struct {
	Amount0 sdkmath.Int
	Amount1 sdkmath.Int
}

// Service is the AMM operation surface the engine depends on. Swaps settle
// against the caller-designated holder balances; position operations act on
// handles the AMM issued to the owner.
type Service interface {
	// Pool resolves the pool identity for an ordered pair and fee tier.
	Pool(tokenA, tokenB common.Address, fee types.FeeTier) (common.Address, error)

	// Slot0 returns the pool's current sqrt price (Q64.96) and tick.
	Slot0(pool common.Address) (*big.Int, int, error)

	// QuoteExactInput estimates single-hop output without moving balances.
	// A zero amountIn quotes zero.
	QuoteExactInput(tokenIn, tokenOut common.Address, fee types.FeeTier, amountIn sdkmath.Int) (sdkmath.Int, error)

	// QuoteExactOutput estimates the single-hop input required for amountOut.
	// A zero amountOut quotes zero.
	QuoteExactOutput(tokenIn, tokenOut common.Address, fee types.FeeTier, amountOut sdkmath.Int) (sdkmath.Int, error)

	// SwapExactInput converts amountIn of owner's tokenIn, crediting the
	// realized output to recipient. Returns the realized output.
	SwapExactInput(owner, recipient common.Address, tokenIn, tokenOut common.Address, fee types.FeeTier, amountIn sdkmath.Int) (sdkmath.Int, error)

	// SwapExactOutput converts just enough of owner's tokenIn to credit
	// exactly amountOut of tokenOut to recipient. Returns the spent input.
	SwapExactOutput(owner, recipient common.Address, tokenIn, tokenOut common.Address, fee types.FeeTier, amountOut sdkmath.Int) (sdkmath.Int, error)

	// MintPosition opens a tick-ranged position funded from owner's balances.
	MintPosition(owner common.Address, token0, token1 common.Address, fee types.FeeTier, tickLower, tickUpper int, amount0, amount1 sdkmath.Int) (MintResult, error)

	// IncreaseLiquidity grows an existing position from owner's balances.
	IncreaseLiquidity(owner common.Address, tokenID uint64, amount0, amount1 sdkmath.Int) (LiquidityChange, error)

	// DecreaseLiquidity burns liquidity; proceeds become collectible, not
	// transferred until Collect.
	DecreaseLiquidity(owner common.Address, tokenID uint64, liquidity sdkmath.Int) (LiquidityChange, error)

	// Collect pays out owed proceeds up to the requested caps.
	Collect(owner common.Address, tokenID uint64, max0, max1 sdkmath.Int) (Collected, error)

	// Burn discards a cleared handle: zero liquidity and nothing owed.
	Burn(owner common.Address, tokenID uint64) error

	// PositionLiquidity returns the AMM-side liquidity of a handle.
	PositionLiquidity(tokenID uint64) (sdkmath.Int, error)
}

// IncentiveKey identifies one incentive of an external staking program.
type IncentiveKey struct {
	RewardToken common.Address
	Pool        common.Address
	StartTime   int64
	EndTime     int64
	Refundee    common.Address
}

// Staking is the external incentive program surface. Custody of a position
// handle moves to the program on Deposit and back on Withdraw.
type Staking interface {
	CreateIncentive(creator common.Address, key IncentiveKey, reward sdkmath.Int) error
	Deposit(owner common.Address, tokenID uint64) error
	Stake(key IncentiveKey, tokenID uint64) error
	Unstake(key IncentiveKey, tokenID uint64) error
	ClaimReward(rewardToken, to common.Address) (sdkmath.Int, error)
	Withdraw(tokenID uint64, to common.Address) error
	EndIncentive(key IncentiveKey) (sdkmath.Int, error)
}

// AmountsForLiquidity returns the token amounts spanned by liquidity between
// the two range bounds at the given current price, flooring both amounts.
// Every valuation call site uses this same rounding so repeated valuations
// of unchanged state agree.
func AmountsForLiquidity(sqrtCurX96, sqrtAX96, sqrtBX96, liquidity *big.Int) (amount0, amount1 *big.Int) {
	amount0 = big.NewInt(0)
	amount1 = big.NewInt(0)
	if liquidity.Sign() <= 0 {
		return amount0, amount1
	}
	switch {
	case sqrtCurX96.Cmp(sqrtAX96) <= 0:
		amount0 = utils.GetAmount0Delta(sqrtAX96, sqrtBX96, liquidity, false)
	case sqrtCurX96.Cmp(sqrtBX96) >= 0:
		amount1 = utils.GetAmount1Delta(sqrtAX96, sqrtBX96, liquidity, false)
	default:
		amount0 = utils.GetAmount0Delta(sqrtCurX96, sqrtBX96, liquidity, false)
		amount1 = utils.GetAmount1Delta(sqrtAX96, sqrtCurX96, liquidity, false)
	}
	return amount0, amount1
}

// SqrtRatioAtTick wraps the math library's tick conversion for call sites
// that validate ticks up front.
func SqrtRatioAtTick(tick int) (*big.Int, error) {
	if tick < utils.MinTick || tick > utils.MaxTick {
		return nil, ErrInvalidTickRange
	}
	return utils.GetSqrtRatioAtTick(tick)
}
