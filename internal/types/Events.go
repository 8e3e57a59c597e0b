/*

Typed audit records. Every successful public operation appends exactly one
of these to the audit log; the engine itself never reads the log back.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Event is one append-only audit record.
type Event interface {
	// EventName is the stable record name used by sinks.
	EventName() string
}

type CapChanged struct {
	Setter common.Address `json:"setter"`
	OldCap sdkmath.Int    `json:"old_cap"`
	NewCap sdkmath.Int    `json:"new_cap"`
}

type FeeChanged struct {
	Setter         common.Address `json:"setter"`
	Kind           FeeKind        `json:"kind"`
	OldRatio       sdkmath.Int    `json:"old_ratio"`
	OldDenominator sdkmath.Int    `json:"old_denominator"`
	NewRatio       sdkmath.Int    `json:"new_ratio"`
	NewDenominator sdkmath.Int    `json:"new_denominator"`
}

type PoolJoined struct {
	Investor common.Address `json:"investor"`
	Amount   sdkmath.Int    `json:"amount"` // shares minted to the investor
}

type PoolExited struct {
	Investor common.Address `json:"investor"`
	Amount   sdkmath.Int    `json:"amount"` // shares burned from the investor
}

type Swap struct {
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  sdkmath.Int    `json:"amount_in"`
	AmountOut sdkmath.Int    `json:"amount_out"`
}

type Mint struct {
	TokenID   uint64         `json:"token_id"`
	Pool      common.Address `json:"pool"`
	TickLower int            `json:"tick_lower"`
	TickUpper int            `json:"tick_upper"`
	Liquidity sdkmath.Int    `json:"liquidity"`
	Amount0   sdkmath.Int    `json:"amount0"`
	Amount1   sdkmath.Int    `json:"amount1"`
}

type IncreaseLiquidity struct {
	TokenID   uint64      `json:"token_id"`
	Liquidity sdkmath.Int `json:"liquidity"`
	Amount0   sdkmath.Int `json:"amount0"`
	Amount1   sdkmath.Int `json:"amount1"`
}

type DecreaseLiquidity struct {
	TokenID   uint64      `json:"token_id"`
	Liquidity sdkmath.Int `json:"liquidity"`
	Amount0   sdkmath.Int `json:"amount0"`
	Amount1   sdkmath.Int `json:"amount1"`
}

type Collect struct {
	TokenID uint64      `json:"token_id"`
	Amount0 sdkmath.Int `json:"amount0"`
	Amount1 sdkmath.Int `json:"amount1"`
}

type Staker struct {
	TokenID uint64         `json:"token_id"`
	Program common.Address `json:"program"`
}

type UnStaker struct {
	TokenID uint64         `json:"token_id"`
	Program common.Address `json:"program"`
}

func (CapChanged) EventName() string        { return "CapChanged" }
func (FeeChanged) EventName() string        { return "FeeChanged" }
func (PoolJoined) EventName() string        { return "PoolJoined" }
func (PoolExited) EventName() string        { return "PoolExited" }
func (Swap) EventName() string              { return "Swap" }
func (Mint) EventName() string              { return "Mint" }
func (IncreaseLiquidity) EventName() string { return "IncreaseLiquidity" }
func (DecreaseLiquidity) EventName() string { return "DecreaseLiquidity" }
func (Collect) EventName() string           { return "Collect" }
func (Staker) EventName() string            { return "Staker" }
func (UnStaker) EventName() string          { return "UnStaker" }
