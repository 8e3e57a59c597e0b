/*

Fee arithmetic for the pooled fund. All fees are ratio/denominator fractions
with integer floor division; a zero denominator falls back to the default of
1000. Fees are realized as newly minted fund shares, so the functions here
only compute amounts and never touch balances.

*/

package fees

import (
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/kfund-labs/uniliq/internal/types"
)

// SecondsPerYear is the 365.25-day year the management fee prorates over.
const SecondsPerYear = 31_557_600

// DefaultDenominator applies when a fee setting carries a zero denominator.
var DefaultDenominator = sdkmath.NewInt(1000)

var ErrInvalidRatio = errors.New("fee ratio exceeds denominator")

// Validate checks a (ratio, denominator) pair before it is stored. The
// effective denominator substitutes the default for zero; the ratio may not
// exceed it, so no fee can take more than the whole amount.
func Validate(ratio, denominator sdkmath.Int) error {
	if ratio.IsNegative() || denominator.IsNegative() {
		return ErrInvalidRatio
	}
	if ratio.GT(EffectiveDenominator(denominator)) {
		return ErrInvalidRatio
	}
	return nil
}

// EffectiveDenominator resolves the denominator actually used in division.
func EffectiveDenominator(denominator sdkmath.Int) sdkmath.Int {
	if denominator.IsNil() || denominator.IsZero() {
		return DefaultDenominator
	}
	return denominator
}

// RatioFee computes the entry and exit fee: floor(amount * ratio / denom).
func RatioFee(amount sdkmath.Int, setting types.FeeSetting) sdkmath.Int {
	if amount.IsNil() || !amount.IsPositive() || setting.Ratio.IsNil() || setting.Ratio.IsZero() {
		return sdkmath.ZeroInt()
	}
	return amount.Mul(setting.Ratio).Quo(EffectiveDenominator(setting.Denominator))
}

// ManagementFee computes shares owed for the time elapsed since the last
// accrual:
//
//	floor(supply * elapsed * ratio / (denom * SecondsPerYear))
//
// The first accrual after a setting is stored only arms the timestamp, so a
// zero last timestamp charges nothing.
func ManagementFee(totalSupply sdkmath.Int, setting types.FeeSetting, now int64) sdkmath.Int {
	if totalSupply.IsNil() || !totalSupply.IsPositive() || setting.Ratio.IsNil() || setting.Ratio.IsZero() {
		return sdkmath.ZeroInt()
	}
	if setting.LastTimestamp == 0 || now <= setting.LastTimestamp {
		return sdkmath.ZeroInt()
	}
	elapsed := sdkmath.NewInt(now - setting.LastTimestamp)
	divisor := EffectiveDenominator(setting.Denominator).MulRaw(SecondsPerYear)
	return totalSupply.Mul(elapsed).Mul(setting.Ratio).Quo(divisor)
}

// PerformanceFee computes shares owed on an account's per-share net value
// gain since its stored baseline:
//
//	floor(floor(max(newNet - oldNet, 0) * balance * ratio / denom) / newNet)
//
// A zero current net value charges nothing, and a flat or falling net value
// charges nothing without going negative.
func PerformanceFee(balance, oldNet, newNet sdkmath.Int, setting types.FeeSetting) sdkmath.Int {
	if balance.IsNil() || !balance.IsPositive() || setting.Ratio.IsNil() || setting.Ratio.IsZero() {
		return sdkmath.ZeroInt()
	}
	if newNet.IsNil() || !newNet.IsPositive() {
		return sdkmath.ZeroInt()
	}
	base := oldNet
	if base.IsNil() {
		base = sdkmath.ZeroInt()
	}
	gain := newNet.Sub(base)
	if !gain.IsPositive() {
		return sdkmath.ZeroInt()
	}
	value := gain.Mul(balance).Mul(setting.Ratio).Quo(EffectiveDenominator(setting.Denominator))
	return value.Quo(newNet)
}
