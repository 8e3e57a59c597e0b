/*

Fee schedule types shared by the fee engine and the fund ledger.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// NetValueScale is the fixed-point scale (1e18) used for per-share net
// value figures and for proportional withdrawal fractions.
var NetValueScale = sdkmath.NewInt(1_000_000_000_000_000_000)

// FeeKind identifies one of the four fee schedules carried by the fund.
type FeeKind int

const (
	FeeEntry       FeeKind = iota // charged on the gross join amount
	FeeExit                       // charged on the gross exit share amount
	FeeManagement                 // prorated by wall-clock time against share supply
	FeePerformance                // prorated by per-share net value gain
)

// FeeKindCount is the number of fee schedules a fund carries.
const FeeKindCount = 4

func (k FeeKind) String() string {
	switch k {
	case FeeEntry:
		return "entry"
	case FeeExit:
		return "exit"
	case FeeManagement:
		return "management"
	case FeePerformance:
		return "performance"
	default:
		return "unknown"
	}
}

// Valid reports whether k names one of the four fee schedules.
func (k FeeKind) Valid() bool {
	return k >= FeeEntry && k < FeeKindCount
}

// FeeSetting is one fee schedule. A zero Denominator is treated as 1000 in
// every computation, never as zero. LastTimestamp is the unix time of the
// last accrual and only ever advances.
type FeeSetting struct {
	Ratio         sdkmath.Int `json:"ratio"`
	Denominator   sdkmath.Int `json:"denominator"`
	LastTimestamp int64       `json:"last_timestamp"`
}

// NewFeeSetting returns a zeroed schedule (no fee, never accrued).
func NewFeeSetting() FeeSetting {
	return FeeSetting{
		Ratio:       sdkmath.ZeroInt(),
		Denominator: sdkmath.ZeroInt(),
	}
}
