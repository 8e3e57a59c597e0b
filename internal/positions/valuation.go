/*

Spot valuation of the manager's holdings in the reserve token. Idle balances
price through the stored swap routes; deployed liquidity prices at each
pool's current sqrt price. All conversions floor, so total assets never
overstate what an actual unwind could realize.

*/

package positions

import (
	sdkmath "cosmossdk.io/math"

	"github.com/kfund-labs/uniliq/internal/amm"
)

// IdleAssets values the treasury's idle underlying balances in reserve.
// Tokens without a stored route to reserve value at zero.
func (m *Manager) IdleAssets() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, t := range m.Underlyings() {
		bal := m.bank.BalanceOf(m.self, t.Address)
		if bal.IsZero() {
			continue
		}
		total = total.Add(m.router.EstimateAmountOut(t.Address, m.reserve, bal))
	}
	return total
}

// LiquidityAssets values the active positions in reserve at each pool's
// current price. Staked positions are valued the same as self-held ones;
// custody does not change what the liquidity is worth.
func (m *Manager) LiquidityAssets() (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, pos := range m.WorksPos() {
		if !pos.Liquidity.IsPositive() {
			continue
		}
		sqrtCur, _, err := m.dex.Slot0(pos.Pool)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		sqrtA, err := amm.SqrtRatioAtTick(pos.TickLower)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		sqrtB, err := amm.SqrtRatioAtTick(pos.TickUpper)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		amount0, amount1 := amm.AmountsForLiquidity(sqrtCur, sqrtA, sqrtB, pos.Liquidity.BigInt())
		total = total.Add(m.router.EstimateAmountOut(pos.Token0, m.reserve, sdkmath.NewIntFromBigInt(amount0)))
		total = total.Add(m.router.EstimateAmountOut(pos.Token1, m.reserve, sdkmath.NewIntFromBigInt(amount1)))
	}
	return total, nil
}

// Assets is the manager's total holdings in reserve: idle plus deployed.
func (m *Manager) Assets() (sdkmath.Int, error) {
	deployed, err := m.LiquidityAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return m.IdleAssets().Add(deployed), nil
}
