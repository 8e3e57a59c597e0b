/*

Position manager. Holds the fund's working capital: idle underlying balances
on the bank ledger plus a set of tick-ranged liquidity positions on the
external AMM, at most one per (pool, tickLower, tickUpper). The strategist
deploys and unwinds liquidity here; the bound fund pulls reserve out on
investor exits.

Locking is left to the callers: the bound fund serializes investor flow
under its own lock and the strategist daemon is a single loop.

*/

package positions

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/kfund-labs/uniliq/internal/amm"
	"github.com/kfund-labs/uniliq/internal/audit"
	"github.com/kfund-labs/uniliq/internal/bank"
	"github.com/kfund-labs/uniliq/internal/gov"
	"github.com/kfund-labs/uniliq/internal/logger"
	"github.com/kfund-labs/uniliq/internal/swap"
	"github.com/kfund-labs/uniliq/internal/types"
)

var (
	ErrAlreadyBound          = errors.New("manager is already bound to a fund")
	ErrNotBound              = errors.New("manager is not bound to a fund")
	ErrUnknownPosition       = errors.New("position is not in the active set")
	ErrUnknownUnderlying     = errors.New("token is not a registered underlying")
	ErrNonZeroBalance        = errors.New("underlying still carries balance")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for requested amount")
	ErrSlippageExceeded      = errors.New("realized amounts outside slippage bounds")
	ErrPositionStaked        = errors.New("position is staked with an incentive program")
)

// maxCollect is the cap used when a call wants everything a position owes.
var maxCollect = sdkmath.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)))

// Manager owns the deployed-capital side of the fund.
type Manager struct {
	identity *gov.Identity
	bank     *bank.Ledger
	dex      amm.Service
	router   *swap.Router
	recorder audit.Recorder
	log      zerolog.Logger

	self    common.Address // treasury identity all balances and handles are held under
	reserve common.Address // valuation numeraire and investor settlement token
	fund    common.Address // bound fund, zero until Bind

	underlyings map[common.Address]types.Token
	positions   map[types.PositionKey]*types.Position
	byTokenID   map[uint64]types.PositionKey
}

func NewManager(identity *gov.Identity, ledger *bank.Ledger, dex amm.Service, router *swap.Router, recorder audit.Recorder, self, reserve common.Address) (*Manager, error) {
	if self == (common.Address{}) || reserve == (common.Address{}) {
		return nil, gov.ErrZeroAddress
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	m := &Manager{
		identity:    identity,
		bank:        ledger,
		dex:         dex,
		router:      router,
		recorder:    recorder,
		log:         logger.GetForComponent("position_manager"),
		self:        self,
		reserve:     reserve,
		underlyings: make(map[common.Address]types.Token),
		positions:   make(map[types.PositionKey]*types.Position),
		byTokenID:   make(map[uint64]types.PositionKey),
	}
	m.underlyings[reserve] = types.Token{Address: reserve, Symbol: "RESERVE"}
	return m, nil
}

// Self returns the treasury identity the manager's balances are held under.
func (m *Manager) Self() common.Address { return m.self }

// Reserve returns the settlement token.
func (m *Manager) Reserve() common.Address { return m.reserve }

// Fund returns the bound fund identity, zero before Bind.
func (m *Manager) Fund() common.Address { return m.fund }

// Bind attaches the manager to its fund. One-time; rebinding is rejected.
func (m *Manager) Bind(caller, fund common.Address) error {
	if err := m.identity.RequireGovernance(caller); err != nil {
		return err
	}
	if fund == (common.Address{}) {
		return gov.ErrZeroAddress
	}
	if m.fund != (common.Address{}) {
		return ErrAlreadyBound
	}
	m.fund = fund
	m.log.Info().Str("fund", fund.Hex()).Msg("Manager bound to fund")
	return nil
}

func (m *Manager) requireOperator(caller common.Address) error {
	return m.identity.RequireAuthorized(caller, m.fund, m.self)
}

// SetUnderlyings registers tokens the manager may hold and value.
func (m *Manager) SetUnderlyings(caller common.Address, tokens ...types.Token) error {
	if err := m.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	for _, t := range tokens {
		if t.Address == (common.Address{}) {
			return gov.ErrZeroAddress
		}
	}
	for _, t := range tokens {
		m.underlyings[t.Address] = t
	}
	return nil
}

// RemoveUnderlyings drops tokens from the registered set. A token with a
// remaining treasury balance, or still referenced by an active position,
// stays registered and the whole call is rejected.
func (m *Manager) RemoveUnderlyings(caller common.Address, addrs ...common.Address) error {
	if err := m.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	for _, addr := range addrs {
		if addr == m.reserve {
			return fmt.Errorf("%w: reserve token cannot be removed", ErrUnknownUnderlying)
		}
		if _, ok := m.underlyings[addr]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownUnderlying, addr.Hex())
		}
		if !m.bank.BalanceOf(m.self, addr).IsZero() {
			return fmt.Errorf("%w: %s", ErrNonZeroBalance, addr.Hex())
		}
		for _, pos := range m.positions {
			if pos.Token0 == addr || pos.Token1 == addr {
				return fmt.Errorf("%w: %s is held by position %d", ErrNonZeroBalance, addr.Hex(), pos.TokenID)
			}
		}
	}
	for _, addr := range addrs {
		delete(m.underlyings, addr)
	}
	return nil
}

// Underlyings returns the registered tokens, reserve included, in address
// order.
func (m *Manager) Underlyings() []types.Token {
	out := make([]types.Token, 0, len(m.underlyings))
	for _, t := range m.underlyings {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	return out
}

func (m *Manager) isUnderlying(addr common.Address) bool {
	_, ok := m.underlyings[addr]
	return ok
}

// ApproveAll re-grants the AMM spending rights over every underlying. The
// in-process ledger settles directly, so this only validates the registry
// and records intent in the log.
func (m *Manager) ApproveAll(caller common.Address) error {
	if err := m.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	for addr := range m.underlyings {
		m.log.Debug().Str("token", addr.Hex()).Msg("Spending approval refreshed")
	}
	return nil
}

// SetSwapRoute stores the conversion route for an ordered token pair.
func (m *Manager) SetSwapRoute(caller common.Address, tokenIn, tokenOut common.Address, path []byte) error {
	return m.router.SetRoute(caller, tokenIn, tokenOut, path)
}

// SwapRoute returns the stored route bytes for an ordered token pair.
func (m *Manager) SwapRoute(tokenIn, tokenOut common.Address) ([]byte, error) {
	return m.router.Route(tokenIn, tokenOut)
}

// ExactInput swaps amountIn of the treasury's tokenIn along the stored
// route. Both tokens must be registered underlyings.
func (m *Manager) ExactInput(caller common.Address, tokenIn, tokenOut common.Address, amountIn, amountOutMin sdkmath.Int) (sdkmath.Int, error) {
	if err := m.requireOperator(caller); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if !m.isUnderlying(tokenIn) || !m.isUnderlying(tokenOut) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s -> %s", ErrUnknownUnderlying, tokenIn.Hex(), tokenOut.Hex())
	}
	return m.router.ExactInput(tokenIn, tokenOut, amountIn, amountOutMin, m.self)
}

// ExactOutput swaps just enough treasury tokenIn for exactly amountOut.
func (m *Manager) ExactOutput(caller common.Address, tokenIn, tokenOut common.Address, amountOut, amountInMax sdkmath.Int) (sdkmath.Int, error) {
	if err := m.requireOperator(caller); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if !m.isUnderlying(tokenIn) || !m.isUnderlying(tokenOut) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s -> %s", ErrUnknownUnderlying, tokenIn.Hex(), tokenOut.Hex())
	}
	return m.router.ExactOutput(tokenIn, tokenOut, amountOut, amountInMax, m.self)
}

// Mint opens a position on (pool, tickLower, tickUpper). If the key is
// already active the amounts are added to the existing position instead, so
// the set keeps exactly one position per key.
func (m *Manager) Mint(caller common.Address, token0, token1 common.Address, fee types.FeeTier, tickLower, tickUpper int, amount0, amount1, amount0Min, amount1Min sdkmath.Int) (types.Position, error) {
	if err := m.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return types.Position{}, err
	}
	if !m.isUnderlying(token0) || !m.isUnderlying(token1) {
		return types.Position{}, fmt.Errorf("%w: %s / %s", ErrUnknownUnderlying, token0.Hex(), token1.Hex())
	}
	pool, err := m.dex.Pool(token0, token1, fee)
	if err != nil {
		return types.Position{}, err
	}
	key := types.PositionKey{Pool: pool, TickLower: tickLower, TickUpper: tickUpper}
	if existing, ok := m.positions[key]; ok {
		if err := m.increase(existing, amount0, amount1, amount0Min, amount1Min); err != nil {
			return types.Position{}, err
		}
		return *existing, nil
	}

	res, err := m.dex.MintPosition(m.self, token0, token1, fee, tickLower, tickUpper, amount0, amount1)
	if err != nil {
		return types.Position{}, err
	}
	if res.Amount0.LT(amount0Min) || res.Amount1.LT(amount1Min) {
		// The handle exists on the AMM side now; drain and burn it before
		// failing, so rejected mints leave nothing behind.
		if change, derr := m.dex.DecreaseLiquidity(m.self, res.TokenID, res.Liquidity); derr == nil {
			_, _ = m.dex.Collect(m.self, res.TokenID, change.Amount0, change.Amount1)
		}
		if berr := m.dex.Burn(m.self, res.TokenID); berr != nil {
			m.log.Warn().Err(berr).Uint64("token_id", res.TokenID).Msg("Failed to burn rejected mint handle")
		}
		return types.Position{}, fmt.Errorf("%w: minted %s/%s, minimum %s/%s",
			ErrSlippageExceeded, res.Amount0, res.Amount1, amount0Min, amount1Min)
	}
	pos := &types.Position{
		TokenID:   res.TokenID,
		Pool:      res.Pool,
		Token0:    token0,
		Token1:    token1,
		Fee:       fee,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: res.Liquidity,
		Custody:   types.CustodySelf,
	}
	m.positions[key] = pos
	m.byTokenID[res.TokenID] = key
	m.recorder.Record(types.Mint{
		TokenID:   res.TokenID,
		Pool:      res.Pool,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: res.Liquidity,
		Amount0:   res.Amount0,
		Amount1:   res.Amount1,
	})
	m.log.Info().
		Uint64("token_id", res.TokenID).
		Str("pool", res.Pool.Hex()).
		Int("tick_lower", tickLower).
		Int("tick_upper", tickUpper).
		Str("liquidity", res.Liquidity.String()).
		Msg("Position minted")
	return *pos, nil
}

func (m *Manager) increase(pos *types.Position, amount0, amount1, amount0Min, amount1Min sdkmath.Int) error {
	if pos.Custody == types.CustodyStaked {
		return fmt.Errorf("%w: token %d", ErrPositionStaked, pos.TokenID)
	}
	change, err := m.dex.IncreaseLiquidity(m.self, pos.TokenID, amount0, amount1)
	if err != nil {
		return err
	}
	if change.Amount0.LT(amount0Min) || change.Amount1.LT(amount1Min) {
		if back, derr := m.dex.DecreaseLiquidity(m.self, pos.TokenID, change.Liquidity); derr == nil {
			_, _ = m.dex.Collect(m.self, pos.TokenID, back.Amount0, back.Amount1)
		}
		return fmt.Errorf("%w: added %s/%s, minimum %s/%s",
			ErrSlippageExceeded, change.Amount0, change.Amount1, amount0Min, amount1Min)
	}
	pos.Liquidity = pos.Liquidity.Add(change.Liquidity)
	m.recorder.Record(types.IncreaseLiquidity{
		TokenID:   pos.TokenID,
		Liquidity: change.Liquidity,
		Amount0:   change.Amount0,
		Amount1:   change.Amount1,
	})
	return nil
}

// IncreaseLiquidity grows an active position from treasury balances.
func (m *Manager) IncreaseLiquidity(caller common.Address, tokenID uint64, amount0, amount1, amount0Min, amount1Min sdkmath.Int) error {
	if err := m.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	pos, err := m.positionByID(tokenID)
	if err != nil {
		return err
	}
	return m.increase(pos, amount0, amount1, amount0Min, amount1Min)
}

// DecreaseLiquidity burns liquidity from an active position. The proceeds
// become collectible on the AMM side; Collect moves them to the treasury.
func (m *Manager) DecreaseLiquidity(caller common.Address, tokenID uint64, liquidity, amount0Min, amount1Min sdkmath.Int) (amm.LiquidityChange, error) {
	if err := m.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return amm.LiquidityChange{}, err
	}
	pos, err := m.positionByID(tokenID)
	if err != nil {
		return amm.LiquidityChange{}, err
	}
	change, err := m.decrease(pos, liquidity, amount0Min, amount1Min)
	if err != nil {
		return amm.LiquidityChange{}, err
	}
	return change, nil
}

func (m *Manager) decrease(pos *types.Position, liquidity, amount0Min, amount1Min sdkmath.Int) (amm.LiquidityChange, error) {
	if pos.Custody == types.CustodyStaked {
		return amm.LiquidityChange{}, fmt.Errorf("%w: token %d", ErrPositionStaked, pos.TokenID)
	}
	if liquidity.IsNil() || !liquidity.IsPositive() {
		return amm.LiquidityChange{}, fmt.Errorf("%w: zero liquidity", ErrInsufficientLiquidity)
	}
	if pos.Liquidity.LT(liquidity) {
		return amm.LiquidityChange{}, fmt.Errorf("%w: position %d holds %s, requested %s",
			ErrInsufficientLiquidity, pos.TokenID, pos.Liquidity, liquidity)
	}
	change, err := m.dex.DecreaseLiquidity(m.self, pos.TokenID, liquidity)
	if err != nil {
		return amm.LiquidityChange{}, err
	}
	if change.Amount0.LT(amount0Min) || change.Amount1.LT(amount1Min) {
		// Pull the released amounts idle before re-adding, so the value
		// stays on the treasury and counted whether or not the restore
		// lands. Collecting with the change amounts as caps leaves any
		// previously owed fees untouched.
		got, cerr := m.dex.Collect(m.self, pos.TokenID, change.Amount0, change.Amount1)
		if cerr != nil {
			pos.Liquidity = pos.Liquidity.Sub(change.Liquidity)
			m.log.Error().Err(cerr).Uint64("token_id", pos.TokenID).Msg("Failed to collect proceeds after slippage rejection")
			return amm.LiquidityChange{}, fmt.Errorf("%w: released %s/%s, minimum %s/%s",
				ErrSlippageExceeded, change.Amount0, change.Amount1, amount0Min, amount1Min)
		}
		if restored, ierr := m.dex.IncreaseLiquidity(m.self, pos.TokenID, got.Amount0, got.Amount1); ierr == nil {
			pos.Liquidity = pos.Liquidity.Sub(change.Liquidity).Add(restored.Liquidity)
		} else {
			// Proceeds stay idle on the treasury; valuation is intact.
			pos.Liquidity = pos.Liquidity.Sub(change.Liquidity)
			m.log.Warn().Err(ierr).Uint64("token_id", pos.TokenID).Msg("Slippage-rejected decrease left proceeds idle")
		}
		return amm.LiquidityChange{}, fmt.Errorf("%w: released %s/%s, minimum %s/%s",
			ErrSlippageExceeded, change.Amount0, change.Amount1, amount0Min, amount1Min)
	}
	pos.Liquidity = pos.Liquidity.Sub(change.Liquidity)
	m.recorder.Record(types.DecreaseLiquidity{
		TokenID:   pos.TokenID,
		Liquidity: change.Liquidity,
		Amount0:   change.Amount0,
		Amount1:   change.Amount1,
	})
	return change, nil
}

// Collect moves a position's owed proceeds to the treasury, up to the caps.
// A fully unwound position leaves the active set once its owed balances are
// drained.
func (m *Manager) Collect(caller common.Address, tokenID uint64, max0, max1 sdkmath.Int) (amm.Collected, error) {
	if err := m.requireOperator(caller); err != nil {
		return amm.Collected{}, err
	}
	pos, err := m.positionByID(tokenID)
	if err != nil {
		return amm.Collected{}, err
	}
	return m.collect(pos, max0, max1)
}

func (m *Manager) collect(pos *types.Position, max0, max1 sdkmath.Int) (amm.Collected, error) {
	if pos.Custody == types.CustodyStaked {
		return amm.Collected{}, fmt.Errorf("%w: token %d", ErrPositionStaked, pos.TokenID)
	}
	got, err := m.dex.Collect(m.self, pos.TokenID, max0, max1)
	if err != nil {
		return amm.Collected{}, err
	}
	m.recorder.Record(types.Collect{TokenID: pos.TokenID, Amount0: got.Amount0, Amount1: got.Amount1})
	// Caps that did not bind mean the owed balances are now empty.
	if pos.Liquidity.IsZero() && got.Amount0.LT(max0) && got.Amount1.LT(max1) {
		key := pos.Key()
		delete(m.positions, key)
		delete(m.byTokenID, pos.TokenID)
		if berr := m.dex.Burn(m.self, pos.TokenID); berr != nil {
			m.log.Warn().Err(berr).Uint64("token_id", pos.TokenID).Msg("Failed to burn retired handle")
		}
		m.log.Info().Uint64("token_id", pos.TokenID).Msg("Position retired")
	}
	return got, nil
}

// CheckPos looks a position up by its exact range key.
func (m *Manager) CheckPos(pool common.Address, tickLower, tickUpper int) (types.Position, bool) {
	pos, ok := m.positions[types.PositionKey{Pool: pool, TickLower: tickLower, TickUpper: tickUpper}]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// WorksPos returns the active positions ordered by handle.
func (m *Manager) WorksPos() []types.Position {
	out := make([]types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (m *Manager) positionByID(tokenID uint64) (*types.Position, error) {
	key, ok := m.byTokenID[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: token %d", ErrUnknownPosition, tokenID)
	}
	return m.positions[key], nil
}

// Batch runs calls in order and stops at the first error. Each call is
// atomic on its own; completed calls stay applied.
func (m *Manager) Batch(calls ...func() error) error {
	for i, call := range calls {
		if err := call(); err != nil {
			return fmt.Errorf("batch call %d: %w", i, err)
		}
	}
	return nil
}

// Withdraw pays amount of reserve to the recipient on behalf of the bound
// fund. Idle reserve is spent first; if it falls short, every self-held
// position is shrunk by the scale fraction (1e18 fixed point), proceeds are
// collected and converted to reserve, and the payment retried.
func (m *Manager) Withdraw(caller, to common.Address, amount, scale sdkmath.Int) error {
	if m.fund == (common.Address{}) {
		return ErrNotBound
	}
	if caller != m.fund {
		return fmt.Errorf("%w: %s is not the bound fund", gov.ErrNotAuthorized, caller.Hex())
	}
	if amount.IsNil() || amount.IsNegative() {
		return bank.ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	if m.bank.BalanceOf(m.self, m.reserve).GTE(amount) {
		return m.bank.Transfer(m.reserve, m.self, to, amount)
	}

	if err := m.unwindByScale(scale); err != nil {
		return err
	}
	if err := m.sweepToReserve(amount); err != nil {
		return err
	}
	if m.bank.BalanceOf(m.self, m.reserve).LT(amount) {
		return fmt.Errorf("%w: need %s reserve after unwind", ErrInsufficientLiquidity, amount)
	}
	return m.bank.Transfer(m.reserve, m.self, to, amount)
}

// WithdrawUnderlying pays the scale fraction of every holding to the
// recipient in kind: positions are shrunk by scale and collected, then the
// same fraction of each idle underlying balance transfers out.
func (m *Manager) WithdrawUnderlying(caller, to common.Address, scale sdkmath.Int) error {
	if m.fund == (common.Address{}) {
		return ErrNotBound
	}
	if caller != m.fund {
		return fmt.Errorf("%w: %s is not the bound fund", gov.ErrNotAuthorized, caller.Hex())
	}
	if scale.IsNil() || !scale.IsPositive() || scale.GT(types.NetValueScale) {
		return fmt.Errorf("%w: scale %s", bank.ErrInvalidAmount, scale)
	}
	if err := m.unwindByScale(scale); err != nil {
		return err
	}
	for _, t := range m.Underlyings() {
		bal := m.bank.BalanceOf(m.self, t.Address)
		if bal.IsZero() {
			continue
		}
		share := bal.Mul(scale).Quo(types.NetValueScale)
		if share.IsZero() {
			continue
		}
		if err := m.bank.Transfer(t.Address, m.self, to, share); err != nil {
			return err
		}
	}
	return nil
}

// unwindByScale burns the scale fraction of every self-held position's
// liquidity and collects the proceeds to the treasury.
func (m *Manager) unwindByScale(scale sdkmath.Int) error {
	if scale.IsNil() || !scale.IsPositive() {
		return nil
	}
	if scale.GT(types.NetValueScale) {
		scale = types.NetValueScale
	}
	for _, pos := range m.WorksPos() {
		if pos.Custody == types.CustodyStaked {
			continue
		}
		live, err := m.positionByID(pos.TokenID)
		if err != nil {
			continue
		}
		burn := live.Liquidity.Mul(scale).Quo(types.NetValueScale)
		if !burn.IsPositive() {
			continue
		}
		if _, err := m.decrease(live, burn, sdkmath.ZeroInt(), sdkmath.ZeroInt()); err != nil {
			return err
		}
		if _, err := m.collect(live, maxCollect, maxCollect); err != nil {
			return err
		}
	}
	return nil
}

// sweepToReserve converts idle non-reserve underlyings into reserve until
// the idle reserve balance covers target, spending each token only as far as
// the remaining shortfall needs. Unrouted tokens are left in place.
func (m *Manager) sweepToReserve(target sdkmath.Int) error {
	for _, t := range m.Underlyings() {
		short := target.Sub(m.bank.BalanceOf(m.self, m.reserve))
		if !short.IsPositive() {
			return nil
		}
		if t.Address == m.reserve {
			continue
		}
		bal := m.bank.BalanceOf(m.self, t.Address)
		if bal.IsZero() || !m.router.HasRoute(t.Address, m.reserve) {
			continue
		}
		needIn := m.router.EstimateAmountIn(t.Address, m.reserve, short)
		if needIn.IsPositive() && needIn.LTE(bal) {
			if _, err := m.router.ExactOutput(t.Address, m.reserve, short, bal, m.self); err != nil {
				return err
			}
			continue
		}
		// The whole balance cannot cover the shortfall; convert it all.
		if _, err := m.router.ExactInput(t.Address, m.reserve, bal, sdkmath.ZeroInt(), m.self); err != nil {
			return err
		}
	}
	return nil
}
