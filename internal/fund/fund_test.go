package fund

import (
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/daoleno/uniswapv3-sdk/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/kfund-labs/uniliq/internal/amm"
	"github.com/kfund-labs/uniliq/internal/audit"
	"github.com/kfund-labs/uniliq/internal/bank"
	"github.com/kfund-labs/uniliq/internal/fees"
	"github.com/kfund-labs/uniliq/internal/gov"
	"github.com/kfund-labs/uniliq/internal/positions"
	"github.com/kfund-labs/uniliq/internal/swap"
	"github.com/kfund-labs/uniliq/internal/types"
)

var (
	governance = common.HexToAddress("0x00000000000000000000000000000000000000A0")
	rewards    = common.HexToAddress("0x00000000000000000000000000000000000000A9")
	fundAddr   = common.HexToAddress("0x00000000000000000000000000000000000000F0")
	mgrAddr    = common.HexToAddress("0x00000000000000000000000000000000000000B0")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000C2")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000000C3")

	reserve = common.HexToAddress("0x0000000000000000000000000000000000000001")
	tokenK  = common.HexToAddress("0x00000000000000000000000000000000000000BB")
)

type fixture struct {
	ledger *bank.Ledger
	mgr    *positions.Manager
	fund   *Fund
	now    int64
}

// newFixture wires a reserve-only fund: deposits stay idle on the manager,
// so valuations are exact and fee arithmetic is easy to check.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := bank.NewLedger()
	dex := amm.NewSim(ledger)
	identity, err := gov.NewIdentity(governance, common.Address{}, rewards)
	require.NoError(t, err)
	router := swap.NewRouter(dex, identity, mgrAddr, audit.Nop{})
	mgr, err := positions.NewManager(identity, ledger, dex, router, audit.Nop{}, mgrAddr, reserve)
	require.NoError(t, err)

	f, err := New(identity, ledger, audit.Nop{}, fundAddr, "Test Fund", "TFND")
	require.NoError(t, err)
	require.NoError(t, f.Bind(governance, mgr))

	fx := &fixture{ledger: ledger, mgr: mgr, fund: f, now: 1_700_000_000}
	f.SetClock(func() int64 { return fx.now })

	require.NoError(t, ledger.Mint(alice, reserve, sdkmath.NewInt(1_000_000)))
	require.NoError(t, ledger.Mint(bob, reserve, sdkmath.NewInt(1_000_000)))
	return fx
}

func (fx *fixture) setFee(t *testing.T, kind types.FeeKind, ratio, denom int64) {
	t.Helper()
	require.NoError(t, fx.fund.SetFee(governance, kind, sdkmath.NewInt(ratio), sdkmath.NewInt(denom), fx.now))
}

func TestBindIsOneTime(t *testing.T) {
	fx := newFixture(t)
	err := fx.fund.Bind(governance, fx.mgr)
	require.ErrorIs(t, err, ErrAlreadyBound)
}

func TestJoinPoolFirstInvestor(t *testing.T) {
	fx := newFixture(t)
	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	// Empty fund issues shares one-for-one with the deposit.
	require.Equal(t, sdkmath.NewInt(1000), minted)
	require.Equal(t, sdkmath.NewInt(1000), fx.fund.BalanceOf(alice))
	require.Equal(t, sdkmath.NewInt(1000), fx.fund.TotalSupply())
	require.Equal(t, sdkmath.NewInt(1000), fx.ledger.BalanceOf(mgrAddr, reserve))
	require.Equal(t, sdkmath.NewInt(999_000), fx.ledger.BalanceOf(alice, reserve))
}

func TestJoinPoolSecondInvestorNoDilution(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	// Alice's value before bob joins.
	aliceBefore, err := fx.fund.AccountNetValue(alice)
	require.NoError(t, err)

	minted, err := fx.fund.JoinPool(bob, sdkmath.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(500), minted)

	aliceAfter, err := fx.fund.AccountNetValue(alice)
	require.NoError(t, err)
	require.True(t, aliceAfter.GTE(aliceBefore), "join diluted an existing holder")
}

func TestJoinPoolEntryFee(t *testing.T) {
	fx := newFixture(t)
	fx.setFee(t, types.FeeEntry, 1, 1000)

	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	// 0.1% of 1000 shares is exactly 1 share, taken from the minted
	// amount and issued to rewards.
	require.Equal(t, sdkmath.NewInt(999), minted)
	require.Equal(t, sdkmath.NewInt(999), fx.fund.BalanceOf(alice))
	require.Equal(t, sdkmath.NewInt(1), fx.fund.BalanceOf(rewards))
	require.Equal(t, sdkmath.NewInt(1000), fx.fund.TotalSupply())
}

func TestJoinPoolCapEnforced(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.fund.SetCap(governance, sdkmath.NewInt(1000)))

	_, err := fx.fund.JoinPool(alice, sdkmath.NewInt(600))
	require.NoError(t, err)

	_, err = fx.fund.JoinPool(bob, sdkmath.NewInt(500))
	require.ErrorIs(t, err, ErrCapExceeded)

	// Lifting the cap back to zero makes the fund uncapped again.
	require.NoError(t, fx.fund.SetCap(governance, sdkmath.ZeroInt()))
	_, err = fx.fund.JoinPool(bob, sdkmath.NewInt(500))
	require.NoError(t, err)
}

func TestJoinExitRoundTrip(t *testing.T) {
	fx := newFixture(t)
	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	_, err = fx.fund.ExitPool(alice, minted)
	require.NoError(t, err)

	// No fees configured: alice gets her full deposit back.
	require.Equal(t, sdkmath.NewInt(1_000_000), fx.ledger.BalanceOf(alice, reserve))
	require.True(t, fx.fund.BalanceOf(alice).IsZero())
	require.True(t, fx.fund.TotalSupply().IsZero())
}

func TestExitPoolExitFee(t *testing.T) {
	fx := newFixture(t)
	fx.setFee(t, types.FeeExit, 10, 1000)

	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	_, err = fx.fund.ExitPool(alice, minted)
	require.NoError(t, err)

	// 1% of the exited shares stays behind as rewards shares; the
	// matching slice of assets stays with the manager.
	require.Equal(t, sdkmath.NewInt(10), fx.fund.BalanceOf(rewards))
	require.Equal(t, sdkmath.NewInt(10), fx.fund.TotalSupply())
	require.Equal(t, sdkmath.NewInt(999_990), fx.ledger.BalanceOf(alice, reserve))
	require.Equal(t, sdkmath.NewInt(10), fx.ledger.BalanceOf(mgrAddr, reserve))
}

func TestExitPoolInsufficientShares(t *testing.T) {
	fx := newFixture(t)
	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	_, err = fx.fund.ExitPool(alice, minted.AddRaw(1))
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestExitPoolOfUnderlyingPaysInKind(t *testing.T) {
	fx := newFixture(t)
	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	_, err = fx.fund.ExitPoolOfUnderlying(alice, minted.QuoRaw(2))
	require.NoError(t, err)

	// Half the shares redeem half the idle reserve in kind.
	require.Equal(t, sdkmath.NewInt(999_500), fx.ledger.BalanceOf(alice, reserve))
	require.Equal(t, sdkmath.NewInt(500), fx.fund.BalanceOf(alice))
}

func TestSetFeeValidation(t *testing.T) {
	fx := newFixture(t)

	err := fx.fund.SetFee(governance, types.FeeEntry, sdkmath.NewInt(1001), sdkmath.NewInt(1000), 0)
	require.ErrorIs(t, err, fees.ErrInvalidRatio)

	err = fx.fund.SetFee(governance, types.FeeKind(9), sdkmath.NewInt(1), sdkmath.NewInt(1000), 0)
	require.ErrorIs(t, err, ErrInvalidFeeKind)

	err = fx.fund.SetFee(alice, types.FeeEntry, sdkmath.NewInt(1), sdkmath.NewInt(1000), 0)
	require.ErrorIs(t, err, gov.ErrNotAuthorized)

	fx.setFee(t, types.FeeExit, 10, 1000)
	setting, err := fx.fund.GetFee(types.FeeExit)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10), setting.Ratio)
	require.Equal(t, sdkmath.NewInt(1000), setting.Denominator)
}

func TestManagementFeeAccruesOverTime(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// 2% per year, armed at the current clock.
	fx.setFee(t, types.FeeManagement, 20, 1000)

	fx.now += fees.SecondsPerYear
	_, err = fx.fund.JoinPool(bob, sdkmath.NewInt(1000))
	require.NoError(t, err)

	// One year on one million shares at 2%.
	require.Equal(t, sdkmath.NewInt(20_000), fx.fund.BalanceOf(rewards))
}

func TestManagementFeeSecondAccrualOnlyCountsNewTime(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	fx.setFee(t, types.FeeManagement, 20, 1000)

	fx.now += fees.SecondsPerYear
	_, err = fx.fund.JoinPool(bob, sdkmath.NewInt(1000))
	require.NoError(t, err)
	first := fx.fund.BalanceOf(rewards)

	// No time passes: the next operation accrues nothing further.
	_, err = fx.fund.JoinPool(bob, sdkmath.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, first, fx.fund.BalanceOf(rewards))
}

func TestPerformanceFeeOnGain(t *testing.T) {
	fx := newFixture(t)
	fx.setFee(t, types.FeePerformance, 100, 1000)

	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1000), minted)

	// Donate assets to double the per-share net value.
	require.NoError(t, fx.ledger.Mint(mgrAddr, reserve, sdkmath.NewInt(1000)))

	_, err = fx.fund.ExitPool(alice, sdkmath.NewInt(500))
	require.NoError(t, err)

	// 10% of the doubled value on a 1000-share balance is 50 shares.
	require.Equal(t, sdkmath.NewInt(50), fx.fund.BalanceOf(rewards))
}

func TestPerformanceFeeNotChargedOnLoss(t *testing.T) {
	fx := newFixture(t)
	fx.setFee(t, types.FeePerformance, 100, 1000)

	_, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	// Drain half the manager's reserve to simulate a loss.
	require.NoError(t, fx.ledger.Transfer(reserve, mgrAddr, bob, sdkmath.NewInt(500)))

	_, err = fx.fund.ExitPool(alice, sdkmath.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, sdkmath.ZeroInt(), fx.fund.BalanceOf(rewards))
}

func TestGlobalNetValue(t *testing.T) {
	fx := newFixture(t)

	net, err := fx.fund.GlobalNetValue()
	require.NoError(t, err)
	require.Equal(t, sdkmath.ZeroInt(), net)

	_, err = fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)

	net, err = fx.fund.GlobalNetValue()
	require.NoError(t, err)
	require.Equal(t, types.NetValueScale, net)

	require.NoError(t, fx.ledger.Mint(mgrAddr, reserve, sdkmath.NewInt(1000)))
	net, err = fx.fund.GlobalNetValue()
	require.NoError(t, err)
	require.Equal(t, types.NetValueScale.MulRaw(2), net)
}

func TestFailedJoinLeavesNoTrace(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	fx.setFee(t, types.FeeManagement, 20, 1000)

	// A year passes, then an unfunded account tries to join. The deposit
	// transfer fails, and nothing may stick: no shares, no fee shares, no
	// accrual clock movement.
	fx.now += fees.SecondsPerYear
	_, err = fx.fund.JoinPool(carol, sdkmath.NewInt(1000))
	require.ErrorIs(t, err, bank.ErrInsufficientFunds)
	require.Equal(t, sdkmath.NewInt(1_000_000), fx.fund.TotalSupply())
	require.True(t, fx.fund.BalanceOf(rewards).IsZero())

	// The next funded operation still charges the full year.
	_, err = fx.fund.JoinPool(bob, sdkmath.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(20_000), fx.fund.BalanceOf(rewards))
}

// newDeployedFixture wires a fund whose manager trades a reserve/tokenK pool,
// with routes both ways, so deposits can be deployed into range positions.
func newDeployedFixture(t *testing.T) (*fixture, *amm.Sim, common.Address) {
	t.Helper()
	ledger := bank.NewLedger()
	dex := amm.NewSim(ledger)
	identity, err := gov.NewIdentity(governance, common.Address{}, rewards)
	require.NoError(t, err)
	router := swap.NewRouter(dex, identity, mgrAddr, audit.Nop{})
	mgr, err := positions.NewManager(identity, ledger, dex, router, audit.Nop{}, mgrAddr, reserve)
	require.NoError(t, err)

	pool, err := dex.AddPool(reserve, tokenK, types.FeeTierMedium, new(big.Int).Set(constants.Q96))
	require.NoError(t, err)
	require.NoError(t, dex.FundPool(pool, reserve, sdkmath.NewInt(1_000_000_000)))
	require.NoError(t, dex.FundPool(pool, tokenK, sdkmath.NewInt(1_000_000_000)))
	require.NoError(t, mgr.SetUnderlyings(governance, types.Token{Address: tokenK, Symbol: "TK"}))
	for _, pair := range [][2]common.Address{{tokenK, reserve}, {reserve, tokenK}} {
		path, err := swap.EncodePath([]common.Address{pair[0], pair[1]}, []types.FeeTier{types.FeeTierMedium})
		require.NoError(t, err)
		require.NoError(t, router.SetRoute(governance, pair[0], pair[1], path))
	}

	f, err := New(identity, ledger, audit.Nop{}, fundAddr, "Test Fund", "TFND")
	require.NoError(t, err)
	require.NoError(t, f.Bind(governance, mgr))

	fx := &fixture{ledger: ledger, mgr: mgr, fund: f, now: 1_700_000_000}
	f.SetClock(func() int64 { return fx.now })
	require.NoError(t, ledger.Mint(alice, reserve, sdkmath.NewInt(1_000_000)))
	return fx, dex, pool
}

func TestExitLiquidatesDeployedPosition(t *testing.T) {
	fx, _, _ := newDeployedFixture(t)
	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Deploy most of the deposit: swap part into tokenK, then open a range
	// position around the current price.
	_, err = fx.mgr.ExactInput(governance, reserve, tokenK, sdkmath.NewInt(400_000), sdkmath.ZeroInt())
	require.NoError(t, err)
	_, err = fx.mgr.Mint(governance, reserve, tokenK, types.FeeTierMedium, -600, 600,
		sdkmath.NewInt(300_000), sdkmath.NewInt(300_000),
		sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)

	assets, err := fx.mgr.Assets()
	require.NoError(t, err)
	half := minted.QuoRaw(2)
	// No fees configured, so the payout is the share-proportional value.
	want := half.Mul(assets).Quo(fx.fund.TotalSupply())

	got, err := fx.fund.ExitPool(alice, half)
	require.NoError(t, err)
	require.Equal(t, half, got)
	require.Equal(t, want, fx.ledger.BalanceOf(alice, reserve))
	require.Equal(t, half, fx.fund.BalanceOf(alice))
}

func TestFailedExitLeavesSharesIntact(t *testing.T) {
	fx, dex, pool := newDeployedFixture(t)
	fx.setFee(t, types.FeeManagement, 20, 1000)
	minted, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Deploy nearly everything and stake the position, so a full exit
	// cannot be paid: staked liquidity is out of the manager's reach.
	_, err = fx.mgr.ExactInput(governance, reserve, tokenK, sdkmath.NewInt(500_000), sdkmath.ZeroInt())
	require.NoError(t, err)
	pos, err := fx.mgr.Mint(governance, reserve, tokenK, types.FeeTierMedium, -600, 600,
		sdkmath.NewInt(490_000), sdkmath.NewInt(490_000),
		sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)

	program := common.HexToAddress("0x00000000000000000000000000000000000000D0")
	rewardTok := common.HexToAddress("0x00000000000000000000000000000000000000EE")
	staking := amm.NewSimStaking(dex, fx.ledger, program)
	staker, err := positions.NewStaker(fx.mgr, staking, program)
	require.NoError(t, err)
	key := amm.IncentiveKey{RewardToken: rewardTok, Pool: pool, StartTime: 1000, EndTime: 2000, Refundee: governance}
	require.NoError(t, fx.ledger.Mint(mgrAddr, rewardTok, sdkmath.NewInt(1000)))
	require.NoError(t, staker.CreateIncentive(governance, key, sdkmath.NewInt(1000)))
	require.NoError(t, staker.StakeNFT(governance, pos.TokenID))

	fx.now += fees.SecondsPerYear
	_, err = fx.fund.ExitPool(alice, minted)
	require.ErrorIs(t, err, positions.ErrInsufficientLiquidity)

	// The failed exit burned nothing, minted no fee shares, and left the
	// accrual clock behind.
	require.Equal(t, minted, fx.fund.BalanceOf(alice))
	require.Equal(t, minted, fx.fund.TotalSupply())
	require.True(t, fx.fund.BalanceOf(rewards).IsZero())

	// A small exit the idle reserve can pay still accrues the full year.
	_, err = fx.fund.ExitPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(20_000), fx.fund.BalanceOf(rewards))
}

func TestAccountNetValue(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.fund.JoinPool(alice, sdkmath.NewInt(1000))
	require.NoError(t, err)
	_, err = fx.fund.JoinPool(bob, sdkmath.NewInt(3000))
	require.NoError(t, err)

	av, err := fx.fund.AccountNetValue(alice)
	require.NoError(t, err)
	bv, err := fx.fund.AccountNetValue(bob)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1000), av)
	require.Equal(t, sdkmath.NewInt(3000), bv)
}
