/*

Pooled fund. Investors deposit the reserve token and receive shares priced
at the fund's spot net value; exits burn shares and pull reserve back out of
the position manager. All four fee schedules realize as newly minted shares
to the rewards identity, so fee revenue dilutes instead of moving tokens.

The fund serializes its whole public surface under one lock: exactly one
join, exit or parameter change is in flight at a time, and every operation
sees the settled effects of the previous one.

*/

package fund

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/kfund-labs/uniliq/internal/audit"
	"github.com/kfund-labs/uniliq/internal/bank"
	"github.com/kfund-labs/uniliq/internal/fees"
	"github.com/kfund-labs/uniliq/internal/gov"
	"github.com/kfund-labs/uniliq/internal/logger"
	"github.com/kfund-labs/uniliq/internal/positions"
	"github.com/kfund-labs/uniliq/internal/types"
)

var (
	ErrNotBound           = errors.New("fund is not bound to a manager")
	ErrAlreadyBound       = errors.New("fund is already bound to a manager")
	ErrCapExceeded        = errors.New("deposit would exceed the fund cap")
	ErrInsufficientShares = errors.New("insufficient share balance")
	ErrInvalidFeeKind     = errors.New("unknown fee kind")
	ErrInvalidAmount      = errors.New("amount is invalid")
)

// Fund issues shares against the manager's holdings.
type Fund struct {
	mu       sync.Mutex
	identity *gov.Identity
	bank     *bank.Ledger
	mgr      *positions.Manager
	recorder audit.Recorder
	log      zerolog.Logger
	clock    func() int64

	self   common.Address // share-issuer identity, used as caller towards the manager
	name   string
	symbol string

	totalSupply sdkmath.Int
	balances    map[common.Address]sdkmath.Int
	lastNet     map[common.Address]sdkmath.Int // per-share net value baseline for the performance fee
	cap         sdkmath.Int                    // zero means uncapped
	feeSettings [types.FeeKindCount]types.FeeSetting
}

func New(identity *gov.Identity, ledger *bank.Ledger, recorder audit.Recorder, self common.Address, name, symbol string) (*Fund, error) {
	if self == (common.Address{}) {
		return nil, gov.ErrZeroAddress
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	f := &Fund{
		identity:    identity,
		bank:        ledger,
		recorder:    recorder,
		log:         logger.GetForComponent("fund"),
		clock:       func() int64 { return time.Now().Unix() },
		self:        self,
		name:        name,
		symbol:      symbol,
		totalSupply: sdkmath.ZeroInt(),
		balances:    make(map[common.Address]sdkmath.Int),
		lastNet:     make(map[common.Address]sdkmath.Int),
		cap:         sdkmath.ZeroInt(),
	}
	for k := range f.feeSettings {
		f.feeSettings[k] = types.NewFeeSetting()
	}
	return f, nil
}

// SetClock replaces the fund's time source. Tests use this to drive the
// management fee deterministically.
func (f *Fund) SetClock(clock func() int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
}

func (f *Fund) Name() string         { return f.name }
func (f *Fund) Symbol() string       { return f.symbol }
func (f *Fund) Self() common.Address { return f.self }

// Bind attaches the fund to its manager. One-time in both directions.
func (f *Fund) Bind(caller common.Address, mgr *positions.Manager) error {
	if err := f.identity.RequireGovernance(caller); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mgr != nil {
		return ErrAlreadyBound
	}
	if err := mgr.Bind(caller, f.self); err != nil {
		return err
	}
	f.mgr = mgr
	f.log.Info().Str("manager", mgr.Self().Hex()).Msg("Fund bound to manager")
	return nil
}

// SetCap sets the maximum total assets accepted through joins. Zero lifts
// the cap.
func (f *Fund) SetCap(caller common.Address, cap sdkmath.Int) error {
	if err := f.identity.RequireGovernance(caller); err != nil {
		return err
	}
	if cap.IsNil() || cap.IsNegative() {
		return ErrInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.cap
	f.cap = cap
	f.recorder.Record(types.CapChanged{Setter: caller, OldCap: old, NewCap: cap})
	f.log.Info().Str("old", old.String()).Str("new", cap.String()).Msg("Cap changed")
	return nil
}

// Cap returns the current deposit cap, zero when uncapped.
func (f *Fund) Cap() sdkmath.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cap
}

// SetFee stores one fee schedule. The ratio may not exceed the effective
// denominator; start seeds the management fee's accrual timestamp.
func (f *Fund) SetFee(caller common.Address, kind types.FeeKind, ratio, denominator sdkmath.Int, start int64) error {
	if err := f.identity.RequireGovernance(caller); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidFeeKind, kind)
	}
	if err := fees.Validate(ratio, denominator); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.feeSettings[kind]
	f.feeSettings[kind] = types.FeeSetting{Ratio: ratio, Denominator: denominator, LastTimestamp: start}
	f.recorder.Record(types.FeeChanged{
		Setter:         caller,
		Kind:           kind,
		OldRatio:       old.Ratio,
		OldDenominator: old.Denominator,
		NewRatio:       ratio,
		NewDenominator: denominator,
	})
	f.log.Info().Str("kind", kind.String()).Str("ratio", ratio.String()).Str("denominator", denominator.String()).Msg("Fee changed")
	return nil
}

// GetFee returns one fee schedule.
func (f *Fund) GetFee(kind types.FeeKind) (types.FeeSetting, error) {
	if !kind.Valid() {
		return types.FeeSetting{}, fmt.Errorf("%w: %d", ErrInvalidFeeKind, kind)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeSettings[kind], nil
}

// TotalSupply returns the outstanding share count.
func (f *Fund) TotalSupply() sdkmath.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalSupply
}

// BalanceOf returns an account's share balance.
func (f *Fund) BalanceOf(account common.Address) sdkmath.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceOf(account)
}

func (f *Fund) balanceOf(account common.Address) sdkmath.Int {
	if bal, ok := f.balances[account]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

func (f *Fund) mint(account common.Address, amount sdkmath.Int) {
	if !amount.IsPositive() {
		return
	}
	f.balances[account] = f.balanceOf(account).Add(amount)
	f.totalSupply = f.totalSupply.Add(amount)
}

func (f *Fund) burn(account common.Address, amount sdkmath.Int) {
	f.balances[account] = f.balanceOf(account).Sub(amount)
	f.totalSupply = f.totalSupply.Sub(amount)
}

// GlobalNetValue returns the per-share net value scaled by 1e18, zero while
// no shares exist.
func (f *Fund) GlobalNetValue() (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.globalNetValue()
}

func (f *Fund) globalNetValue() (sdkmath.Int, error) {
	if f.mgr == nil {
		return sdkmath.ZeroInt(), ErrNotBound
	}
	if !f.totalSupply.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	assets, err := f.mgr.Assets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return assets.Mul(types.NetValueScale).Quo(f.totalSupply), nil
}

// AccountNetValue returns the reserve value an account's shares represent.
func (f *Fund) AccountNetValue(account common.Address) (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mgr == nil {
		return sdkmath.ZeroInt(), ErrNotBound
	}
	bal := f.balanceOf(account)
	if !bal.IsPositive() || !f.totalSupply.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	assets, err := f.mgr.Assets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return bal.Mul(assets).Quo(f.totalSupply), nil
}

// accrual is a computed-but-uncommitted fee observation. Join and exit
// compute it before touching any external system and commit it only once
// every failable step has succeeded, so a failed operation mints no fee
// shares and leaves the accrual clock where it was.
type accrual struct {
	account   common.Address
	now       int64
	mgmtFee   sdkmath.Int
	perfFee   sdkmath.Int
	mgmtArmed bool
}

// computeAccruals prices the management and performance fees against the
// given asset value without mutating anything. The performance fee is taken
// on the per-share net value after the management dilution, matching the
// order the fees commit in.
func (f *Fund) computeAccruals(account common.Address, assets sdkmath.Int) accrual {
	a := accrual{
		account: account,
		now:     f.clock(),
		mgmtFee: sdkmath.ZeroInt(),
		perfFee: sdkmath.ZeroInt(),
	}
	mgmt := f.feeSettings[types.FeeManagement]
	if !mgmt.Ratio.IsZero() {
		a.mgmtArmed = true
		a.mgmtFee = fees.ManagementFee(f.totalSupply, mgmt, a.now)
	}

	perf := f.feeSettings[types.FeePerformance]
	if !perf.Ratio.IsZero() {
		supply := f.totalSupply.Add(a.mgmtFee)
		net := sdkmath.ZeroInt()
		if supply.IsPositive() {
			net = assets.Mul(types.NetValueScale).Quo(supply)
		}
		baseline, ok := f.lastNet[account]
		if !ok {
			baseline = sdkmath.ZeroInt()
		}
		a.perfFee = fees.PerformanceFee(f.balanceOf(account), baseline, net, perf)
	}
	return a
}

// supplyAfter is the share supply once the accrual commits.
func (a accrual) supplyAfter(supply sdkmath.Int) sdkmath.Int {
	return supply.Add(a.mgmtFee).Add(a.perfFee)
}

func (f *Fund) commitAccruals(a accrual) {
	if a.mgmtFee.IsPositive() {
		f.mint(f.identity.Rewards, a.mgmtFee)
		f.log.Debug().Str("shares", a.mgmtFee.String()).Msg("Management fee accrued")
	}
	if a.mgmtArmed {
		f.feeSettings[types.FeeManagement].LastTimestamp = a.now
	}
	if a.perfFee.IsPositive() {
		f.mint(f.identity.Rewards, a.perfFee)
		f.log.Debug().Str("account", a.account.Hex()).Str("shares", a.perfFee.String()).Msg("Performance fee accrued")
	}
}

// rebaseline stores the account's current per-share net value as its next
// performance fee baseline.
func (f *Fund) rebaseline(account common.Address) {
	net, err := f.globalNetValue()
	if err != nil {
		return
	}
	f.lastNet[account] = net
}

// JoinPool deposits amount of reserve and mints shares at the fund's spot
// net value. The entry fee is deducted in shares and minted to rewards.
func (f *Fund) JoinPool(caller common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mgr == nil {
		return sdkmath.ZeroInt(), ErrNotBound
	}

	assetsPre, err := f.mgr.Assets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if f.cap.IsPositive() && assetsPre.Add(amount).GT(f.cap) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: assets %s + deposit %s over cap %s",
			ErrCapExceeded, assetsPre, amount, f.cap)
	}
	acc := f.computeAccruals(caller, assetsPre)

	// Last failable step; nothing has been mutated up to here.
	if err := f.bank.Transfer(f.mgr.Reserve(), caller, f.mgr.Self(), amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	f.commitAccruals(acc)

	var shares sdkmath.Int
	if !f.totalSupply.IsPositive() || !assetsPre.IsPositive() {
		shares = amount
	} else {
		shares = amount.Mul(f.totalSupply).Quo(assetsPre)
	}
	entryFee := fees.RatioFee(shares, f.feeSettings[types.FeeEntry])
	minted := shares.Sub(entryFee)
	f.mint(caller, minted)
	f.mint(f.identity.Rewards, entryFee)
	f.rebaseline(caller)

	f.recorder.Record(types.PoolJoined{Investor: caller, Amount: minted})
	f.log.Info().
		Str("investor", caller.Hex()).
		Str("deposit", amount.String()).
		Str("shares", minted.String()).
		Msg("Pool joined")
	return minted, nil
}

// ExitPool burns shareAmount of the caller's shares and pays out the
// proportional reserve value. The exit fee is taken in shares and minted to
// rewards; the manager settles the payment before the share ledger commits.
func (f *Fund) ExitPool(caller common.Address, shareAmount sdkmath.Int) (sdkmath.Int, error) {
	return f.exit(caller, shareAmount, false)
}

// ExitPoolOfUnderlying burns shareAmount and pays the caller's proportional
// holdings out in kind instead of converting to reserve.
func (f *Fund) ExitPoolOfUnderlying(caller common.Address, shareAmount sdkmath.Int) (sdkmath.Int, error) {
	return f.exit(caller, shareAmount, true)
}

func (f *Fund) exit(caller common.Address, shareAmount sdkmath.Int, inKind bool) (sdkmath.Int, error) {
	if shareAmount.IsNil() || !shareAmount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mgr == nil {
		return sdkmath.ZeroInt(), ErrNotBound
	}
	if f.balanceOf(caller).LT(shareAmount) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: have %s, exiting %s",
			ErrInsufficientShares, f.balanceOf(caller), shareAmount)
	}

	assets, err := f.mgr.Assets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	acc := f.computeAccruals(caller, assets)
	supply := acc.supplyAfter(f.totalSupply)

	exitFee := fees.RatioFee(shareAmount, f.feeSettings[types.FeeExit])
	netShares := shareAmount.Sub(exitFee)
	scale := netShares.Mul(types.NetValueScale).Quo(supply)

	// The manager settles the payment before any share-ledger mutation, so
	// a failed withdrawal leaves balances and the accrual clock untouched.
	if inKind {
		if err := f.mgr.WithdrawUnderlying(f.self, caller, scale); err != nil {
			return sdkmath.ZeroInt(), err
		}
	} else {
		entitlement := netShares.Mul(assets).Quo(supply)
		if err := f.mgr.Withdraw(f.self, caller, entitlement, scale); err != nil {
			return sdkmath.ZeroInt(), err
		}
	}

	f.commitAccruals(acc)
	f.burn(caller, shareAmount)
	f.mint(f.identity.Rewards, exitFee)
	if f.balanceOf(caller).IsZero() {
		delete(f.lastNet, caller)
	} else {
		f.rebaseline(caller)
	}

	f.recorder.Record(types.PoolExited{Investor: caller, Amount: shareAmount})
	f.log.Info().
		Str("investor", caller.Hex()).
		Str("shares", shareAmount.String()).
		Bool("in_kind", inKind).
		Msg("Pool exited")
	return netShares, nil
}
