/*

Token and fee-tier identifiers. Tokens and pools are addressed by their
20-byte identifier on the external AMM.

*/

package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// FeeTier is an AMM pool fee in hundredths of a bip (1e-6). It occupies
// exactly three bytes on an encoded swap route, so values must fit 24 bits.
type FeeTier uint32

// MaxFeeTier is the largest fee tier representable on a route.
const MaxFeeTier FeeTier = 1<<24 - 1

// Common fee tiers of the external AMM.
const (
	FeeTierLow    FeeTier = 500
	FeeTierMedium FeeTier = 3000
	FeeTierHigh   FeeTier = 10000
)

// Token describes an asset the manager may hold.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`   // e.g., "USDT"
	Decimals int            `json:"decimals"` // e.g., 6
}
