/*

Concentrated-liquidity position types. The manager keeps one Position per
(pool, tickLower, tickUpper) key; a position's custody moves between the
manager and an external incentive program without leaving the active set.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Custody states of a position handle.
type Custody int

const (
	CustodySelf   Custody = iota // held by the position manager
	CustodyStaked                // deposited with an external incentive program
)

func (c Custody) String() string {
	if c == CustodyStaked {
		return "staked"
	}
	return "self-held"
}

// PositionKey is the exact-match lookup key for an active position.
type PositionKey struct {
	Pool      common.Address `json:"pool"`
	TickLower int            `json:"tick_lower"`
	TickUpper int            `json:"tick_upper"`
}

// Position is one tick-ranged liquidity position owned by the manager.
type Position struct {
	TokenID    uint64         `json:"token_id"` // handle issued by the external AMM
	Pool       common.Address `json:"pool"`
	Token0     common.Address `json:"token0"`
	Token1     common.Address `json:"token1"`
	Fee        FeeTier        `json:"fee"`
	TickLower  int            `json:"tick_lower"`
	TickUpper  int            `json:"tick_upper"`
	Liquidity  sdkmath.Int    `json:"liquidity"`
	Custody    Custody        `json:"custody"`
	StakedWith common.Address `json:"staked_with,omitempty"` // incentive program, zero while self-held
}

// Key returns the exact-match lookup key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Pool: p.Pool, TickLower: p.TickLower, TickUpper: p.TickUpper}
}
