package positions

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/kfund-labs/uniliq/internal/amm"
	"github.com/kfund-labs/uniliq/internal/gov"
	"github.com/kfund-labs/uniliq/internal/types"
)

var (
	programAddr = common.HexToAddress("0x00000000000000000000000000000000000000D0")
	rewardToken = common.HexToAddress("0x00000000000000000000000000000000000000EE")
)

type stakerFixture struct {
	*fixture
	staking *amm.SimStaking
	staker  *Staker
	pos     types.Position
	key     amm.IncentiveKey
}

func newStakerFixture(t *testing.T) *stakerFixture {
	t.Helper()
	f := newFixture(t)
	staking := amm.NewSimStaking(f.dex, f.ledger, programAddr)
	staker, err := NewStaker(f.mgr, staking, programAddr)
	require.NoError(t, err)

	pos := f.mint(t, 1_000_000, 1_000_000)
	key := amm.IncentiveKey{
		RewardToken: rewardToken,
		Pool:        f.pool,
		StartTime:   1000,
		EndTime:     2000,
		Refundee:    governance,
	}
	require.NoError(t, f.ledger.Mint(mgrAddr, rewardToken, sdkmath.NewInt(10_000)))
	require.NoError(t, staker.CreateIncentive(strategist, key, sdkmath.NewInt(10_000)))

	return &stakerFixture{fixture: f, staking: staking, staker: staker, pos: pos, key: key}
}

func TestStakeNFTMovesCustody(t *testing.T) {
	f := newStakerFixture(t)
	require.NoError(t, f.staker.StakeNFT(strategist, f.pos.TokenID))

	got, ok := f.mgr.CheckPos(f.pool, tickLo, tickHi)
	require.True(t, ok)
	require.Equal(t, types.CustodyStaked, got.Custody)
	require.Equal(t, programAddr, got.StakedWith)

	owner, err := f.dex.PositionOwner(f.pos.TokenID)
	require.NoError(t, err)
	require.Equal(t, programAddr, owner)

	// Double deposit is rejected.
	err = f.staker.StakeNFT(strategist, f.pos.TokenID)
	require.ErrorIs(t, err, ErrPositionStaked)
}

func TestStakeNFTRequiresAuthority(t *testing.T) {
	f := newStakerFixture(t)
	err := f.staker.StakeNFT(outsider, f.pos.TokenID)
	require.ErrorIs(t, err, gov.ErrNotAuthorized)
}

func TestStakedPositionRejectsLiquidityOps(t *testing.T) {
	f := newStakerFixture(t)
	require.NoError(t, f.staker.StakeNFT(strategist, f.pos.TokenID))

	_, err := f.mgr.DecreaseLiquidity(strategist, f.pos.TokenID,
		f.pos.Liquidity, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrPositionStaked)

	err = f.mgr.IncreaseLiquidity(strategist, f.pos.TokenID,
		sdkmath.NewInt(1000), sdkmath.NewInt(1000), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrPositionStaked)
}

func TestStakedPositionKeepsValuation(t *testing.T) {
	f := newStakerFixture(t)
	before, err := f.mgr.Assets()
	require.NoError(t, err)

	require.NoError(t, f.staker.StakeNFT(strategist, f.pos.TokenID))
	after, err := f.mgr.Assets()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestStakeAndClaimRewardLifecycle(t *testing.T) {
	f := newStakerFixture(t)
	require.NoError(t, f.staker.StakeNFT(strategist, f.pos.TokenID))
	require.NoError(t, f.staker.StakeToken(strategist, f.key, f.pos.TokenID))
	require.Len(t, f.staker.CheckStakers(), 1)

	require.NoError(t, f.staking.AccrueReward(f.key, f.pos.TokenID, sdkmath.NewInt(1_500)))

	got, err := f.staker.ClaimReward(strategist, rewardToken)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_500), got)
	require.Equal(t, sdkmath.NewInt(1_500), f.ledger.BalanceOf(mgrAddr, rewardToken))

	// A second claim with nothing pending pays zero.
	got, err = f.staker.ClaimReward(strategist, rewardToken)
	require.NoError(t, err)
	require.Equal(t, sdkmath.ZeroInt(), got)
}

func TestWithdrawTokenRestoresCustody(t *testing.T) {
	f := newStakerFixture(t)
	require.NoError(t, f.staker.StakeNFT(strategist, f.pos.TokenID))
	require.NoError(t, f.staker.StakeToken(strategist, f.key, f.pos.TokenID))

	// Still enrolled in the incentive, the handle cannot leave the program.
	err := f.staker.WithdrawToken(strategist, f.pos.TokenID)
	require.ErrorIs(t, err, amm.ErrStillStaked)

	require.NoError(t, f.staker.UnstakeToken(strategist, f.key, f.pos.TokenID))
	require.NoError(t, f.staker.WithdrawToken(strategist, f.pos.TokenID))

	got, ok := f.mgr.CheckPos(f.pool, tickLo, tickHi)
	require.True(t, ok)
	require.Equal(t, types.CustodySelf, got.Custody)
	require.Equal(t, common.Address{}, got.StakedWith)

	// Liquidity ops work again after the handle is back.
	_, err = f.mgr.DecreaseLiquidity(strategist, f.pos.TokenID,
		f.pos.Liquidity.QuoRaw(2), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
}

func TestEndIncentiveRefundsRemainder(t *testing.T) {
	f := newStakerFixture(t)
	require.NoError(t, f.staker.StakeNFT(strategist, f.pos.TokenID))
	require.NoError(t, f.staker.StakeToken(strategist, f.key, f.pos.TokenID))
	require.NoError(t, f.staking.AccrueReward(f.key, f.pos.TokenID, sdkmath.NewInt(4_000)))

	// Only governance may end an incentive.
	_, err := f.staker.EndIncentive(strategist, f.key)
	require.ErrorIs(t, err, gov.ErrNotAuthorized)

	refund, err := f.staker.EndIncentive(governance, f.key)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(6_000), refund)
	require.Equal(t, sdkmath.NewInt(6_000), f.ledger.BalanceOf(governance, rewardToken))
}
