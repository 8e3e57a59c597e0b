package amm

import (
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/daoleno/uniswapv3-sdk/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/kfund-labs/uniliq/internal/bank"
	"github.com/kfund-labs/uniliq/internal/types"
)

var (
	simOwner = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	simOther = common.HexToAddress("0x00000000000000000000000000000000000000AB")
	tokenX   = common.HexToAddress("0x0000000000000000000000000000000000000011")
	tokenY   = common.HexToAddress("0x0000000000000000000000000000000000000022")
)

func newSimFixture(t *testing.T) *Sim {
	t.Helper()
	ledger := bank.NewLedger()
	sim := NewSim(ledger)
	pool, err := sim.AddPool(tokenX, tokenY, types.FeeTierMedium, new(big.Int).Set(constants.Q96))
	require.NoError(t, err)
	require.NoError(t, sim.FundPool(pool, tokenX, sdkmath.NewInt(1_000_000_000)))
	require.NoError(t, sim.FundPool(pool, tokenY, sdkmath.NewInt(1_000_000_000)))
	require.NoError(t, ledger.Mint(simOwner, tokenX, sdkmath.NewInt(10_000_000)))
	require.NoError(t, ledger.Mint(simOwner, tokenY, sdkmath.NewInt(10_000_000)))
	return sim
}

func mustMint(t *testing.T, s *Sim) MintResult {
	t.Helper()
	res, err := s.MintPosition(simOwner, tokenX, tokenY, types.FeeTierMedium, -600, 600,
		sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	return res
}

func TestBurnRemovesClearedHandle(t *testing.T) {
	sim := newSimFixture(t)
	res := mustMint(t, sim)

	change, err := sim.DecreaseLiquidity(simOwner, res.TokenID, res.Liquidity)
	require.NoError(t, err)
	_, err = sim.Collect(simOwner, res.TokenID, change.Amount0, change.Amount1)
	require.NoError(t, err)

	require.NoError(t, sim.Burn(simOwner, res.TokenID))
	_, err = sim.PositionLiquidity(res.TokenID)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestBurnRejectsUnclearedHandle(t *testing.T) {
	sim := newSimFixture(t)
	res := mustMint(t, sim)

	// Live liquidity blocks the burn.
	err := sim.Burn(simOwner, res.TokenID)
	require.ErrorIs(t, err, ErrInvalidAmount)

	// So do uncollected proceeds after a full decrease.
	_, err = sim.DecreaseLiquidity(simOwner, res.TokenID, res.Liquidity)
	require.NoError(t, err)
	err = sim.Burn(simOwner, res.TokenID)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestBurnRequiresOwner(t *testing.T) {
	sim := newSimFixture(t)
	res := mustMint(t, sim)

	change, err := sim.DecreaseLiquidity(simOwner, res.TokenID, res.Liquidity)
	require.NoError(t, err)
	_, err = sim.Collect(simOwner, res.TokenID, change.Amount0, change.Amount1)
	require.NoError(t, err)

	err = sim.Burn(simOther, res.TokenID)
	require.ErrorIs(t, err, ErrPositionNotFound)
}
