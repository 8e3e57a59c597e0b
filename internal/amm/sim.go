/*

In-memory AMM used by the sim engine mode and the test suites. Pools quote at
their posted sqrt price with unbounded depth, charge the pool fee on output,
and settle against the shared bank ledger; positions follow the external
AMM's mint/increase/decrease/collect handle lifecycle. Every call applies in
full or returns with no effect.

*/

package amm

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/daoleno/uniswapv3-sdk/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kfund-labs/uniliq/internal/bank"
	"github.com/kfund-labs/uniliq/internal/logger"
	"github.com/kfund-labs/uniliq/internal/types"
	mathutil "github.com/kfund-labs/uniliq/internal/utils"
)

var simLogger = logger.GetForComponent("amm_sim")

// feeDenominator expresses pool fees in hundredths of a bip.
var feeDenominator = big.NewInt(1_000_000)

type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    types.FeeTier
}

type simPool struct {
	addr         common.Address
	token0       common.Address
	token1       common.Address
	fee          types.FeeTier
	sqrtPriceX96 *big.Int
	tick         int
}

type simPosition struct {
	owner     common.Address
	pool      common.Address
	tickLower int
	tickUpper int
	liquidity *big.Int
	owed0     *big.Int
	owed1     *big.Int
}

// Sim implements Service and holds its pool and position state in memory.
type Sim struct {
	mu        sync.Mutex
	bank      *bank.Ledger
	pools     map[common.Address]*simPool
	byKey     map[poolKey]common.Address
	positions map[uint64]*simPosition
	nextID    uint64
}

func NewSim(ledger *bank.Ledger) *Sim {
	return &Sim{
		bank:      ledger,
		pools:     make(map[common.Address]*simPool),
		byKey:     make(map[poolKey]common.Address),
		positions: make(map[uint64]*simPosition),
		nextID:    1,
	}
}

func orderTokens(a, b common.Address) (common.Address, common.Address, bool) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b, false
	}
	return b, a, true
}

// AddPool registers a pool at the given sqrt price (Q64.96) and returns its
// identity. Token order is normalized; the address is derived from the key.
func (s *Sim) AddPool(tokenA, tokenB common.Address, fee types.FeeTier, sqrtPriceX96 *big.Int) (common.Address, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return common.Address{}, fmt.Errorf("%w: sqrt price must be positive", ErrInvalidAmount)
	}
	token0, token1, _ := orderTokens(tokenA, tokenB)
	tick, err := utils.GetTickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return common.Address{}, fmt.Errorf("sqrt price out of range: %w", err)
	}

	var feeBytes [4]byte
	feeBytes[1] = byte(fee >> 16)
	feeBytes[2] = byte(fee >> 8)
	feeBytes[3] = byte(fee)
	hash := crypto.Keccak256(token0.Bytes(), token1.Bytes(), feeBytes[:])
	addr := common.BytesToAddress(hash[12:])

	s.mu.Lock()
	defer s.mu.Unlock()
	key := poolKey{token0: token0, token1: token1, fee: fee}
	if existing, ok := s.byKey[key]; ok {
		return existing, nil
	}
	s.pools[addr] = &simPool{
		addr:         addr,
		token0:       token0,
		token1:       token1,
		fee:          fee,
		sqrtPriceX96: new(big.Int).Set(sqrtPriceX96),
		tick:         tick,
	}
	s.byKey[key] = addr
	simLogger.Debug().Str("pool", addr.Hex()).Uint32("fee", uint32(fee)).Msg("Pool registered")
	return addr, nil
}

// SetPoolPrice reposts a pool's sqrt price. Test fixtures use this to move
// spot valuation between operations.
func (s *Sim) SetPoolPrice(pool common.Address, sqrtPriceX96 *big.Int) error {
	tick, err := utils.GetTickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return fmt.Errorf("sqrt price out of range: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[pool]
	if !ok {
		return ErrPoolNotFound
	}
	p.sqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
	p.tick = tick
	return nil
}

// FundPool seeds swap inventory on the pool side of the ledger.
func (s *Sim) FundPool(pool, token common.Address, amount sdkmath.Int) error {
	s.mu.Lock()
	_, ok := s.pools[pool]
	s.mu.Unlock()
	if !ok {
		return ErrPoolNotFound
	}
	return s.bank.Mint(pool, token, amount)
}

func (s *Sim) Pool(tokenA, tokenB common.Address, fee types.FeeTier) (common.Address, error) {
	token0, token1, _ := orderTokens(tokenA, tokenB)
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.byKey[poolKey{token0: token0, token1: token1, fee: fee}]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, tokenA.Hex(), tokenB.Hex(), fee)
	}
	return addr, nil
}

func (s *Sim) Slot0(pool common.Address) (*big.Int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[pool]
	if !ok {
		return nil, 0, ErrPoolNotFound
	}
	return new(big.Int).Set(p.sqrtPriceX96), p.tick, nil
}

// grossOut prices amountIn at spot before the pool fee.
func (p *simPool) grossOut(zeroForOne bool, amountIn *big.Int) *big.Int {
	if zeroForOne {
		step := mathutil.MulDiv(amountIn, p.sqrtPriceX96, constantsQ96())
		return mathutil.MulDiv(step, p.sqrtPriceX96, constantsQ96())
	}
	step := mathutil.MulDiv(amountIn, constantsQ96(), p.sqrtPriceX96)
	return mathutil.MulDiv(step, constantsQ96(), p.sqrtPriceX96)
}

// grossIn prices amountOut at spot before the pool fee, rounding up.
func (p *simPool) grossIn(zeroForOne bool, amountOut *big.Int) *big.Int {
	if zeroForOne {
		step := mathutil.MulDivUp(amountOut, constantsQ96(), p.sqrtPriceX96)
		return mathutil.MulDivUp(step, constantsQ96(), p.sqrtPriceX96)
	}
	step := mathutil.MulDivUp(amountOut, p.sqrtPriceX96, constantsQ96())
	return mathutil.MulDivUp(step, p.sqrtPriceX96, constantsQ96())
}

func constantsQ96() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 96)
}

func (s *Sim) lookupHop(tokenIn, tokenOut common.Address, fee types.FeeTier) (*simPool, bool, error) {
	token0, token1, _ := orderTokens(tokenIn, tokenOut)
	addr, ok := s.byKey[poolKey{token0: token0, token1: token1, fee: fee}]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, tokenIn.Hex(), tokenOut.Hex(), fee)
	}
	p := s.pools[addr]
	return p, tokenIn == p.token0, nil
}

func (s *Sim) QuoteExactInput(tokenIn, tokenOut common.Address, fee types.FeeTier, amountIn sdkmath.Int) (sdkmath.Int, error) {
	if amountIn.IsNil() || amountIn.IsNegative() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	if amountIn.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, zeroForOne, err := s.lookupHop(tokenIn, tokenOut, fee)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	gross := p.grossOut(zeroForOne, amountIn.BigInt())
	net := mathutil.MulDiv(gross, big.NewInt(int64(feeDenominator.Int64()-int64(p.fee))), feeDenominator)
	return sdkmath.NewIntFromBigInt(net), nil
}

func (s *Sim) QuoteExactOutput(tokenIn, tokenOut common.Address, fee types.FeeTier, amountOut sdkmath.Int) (sdkmath.Int, error) {
	if amountOut.IsNil() || amountOut.IsNegative() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	if amountOut.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, zeroForOne, err := s.lookupHop(tokenIn, tokenOut, fee)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	// Fee is charged on output, so gross the requested output up first.
	grossOut := mathutil.MulDivUp(amountOut.BigInt(), feeDenominator, big.NewInt(feeDenominator.Int64()-int64(p.fee)))
	in := p.grossIn(zeroForOne, grossOut)
	return sdkmath.NewIntFromBigInt(in), nil
}

func (s *Sim) SwapExactInput(owner, recipient common.Address, tokenIn, tokenOut common.Address, fee types.FeeTier, amountIn sdkmath.Int) (sdkmath.Int, error) {
	out, err := s.QuoteExactInput(tokenIn, tokenOut, fee, amountIn)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if amountIn.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	s.mu.Lock()
	p, _, err := s.lookupHop(tokenIn, tokenOut, fee)
	s.mu.Unlock()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	// Output side first so an underfunded pool aborts before input settles.
	if err := s.bank.Transfer(tokenOut, p.addr, recipient, out); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := s.bank.Transfer(tokenIn, owner, p.addr, amountIn); err != nil {
		// Undo the output leg; the swap must not half-apply.
		_ = s.bank.Transfer(tokenOut, recipient, p.addr, out)
		return sdkmath.ZeroInt(), err
	}
	return out, nil
}

func (s *Sim) SwapExactOutput(owner, recipient common.Address, tokenIn, tokenOut common.Address, fee types.FeeTier, amountOut sdkmath.Int) (sdkmath.Int, error) {
	in, err := s.QuoteExactOutput(tokenIn, tokenOut, fee, amountOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if amountOut.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	s.mu.Lock()
	p, _, err := s.lookupHop(tokenIn, tokenOut, fee)
	s.mu.Unlock()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := s.bank.Transfer(tokenOut, p.addr, recipient, amountOut); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := s.bank.Transfer(tokenIn, owner, p.addr, in); err != nil {
		_ = s.bank.Transfer(tokenOut, recipient, p.addr, amountOut)
		return sdkmath.ZeroInt(), err
	}
	return in, nil
}

// rangeAmounts converts a liquidity figure to token amounts at the pool's
// current price, rounding up when funding and down when paying out.
func (p *simPool) rangeAmounts(tickLower, tickUpper int, liquidity *big.Int, roundUp bool) (*big.Int, *big.Int, error) {
	sqrtA, err := SqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtB, err := SqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, nil, err
	}
	amount0 := big.NewInt(0)
	amount1 := big.NewInt(0)
	switch {
	case p.sqrtPriceX96.Cmp(sqrtA) <= 0:
		amount0 = utils.GetAmount0Delta(sqrtA, sqrtB, liquidity, roundUp)
	case p.sqrtPriceX96.Cmp(sqrtB) >= 0:
		amount1 = utils.GetAmount1Delta(sqrtA, sqrtB, liquidity, roundUp)
	default:
		amount0 = utils.GetAmount0Delta(p.sqrtPriceX96, sqrtB, liquidity, roundUp)
		amount1 = utils.GetAmount1Delta(sqrtA, p.sqrtPriceX96, liquidity, roundUp)
	}
	return amount0, amount1, nil
}

func (s *Sim) MintPosition(owner common.Address, token0, token1 common.Address, fee types.FeeTier, tickLower, tickUpper int, amount0, amount1 sdkmath.Int) (MintResult, error) {
	if tickLower >= tickUpper {
		return MintResult{}, ErrInvalidTickRange
	}
	if amount0.IsNil() || amount1.IsNil() || amount0.IsNegative() || amount1.IsNegative() {
		return MintResult{}, ErrInvalidAmount
	}
	t0, t1, flipped := orderTokens(token0, token1)
	a0, a1 := amount0, amount1
	if flipped {
		a0, a1 = amount1, amount0
	}

	s.mu.Lock()
	addr, ok := s.byKey[poolKey{token0: t0, token1: t1, fee: fee}]
	if !ok {
		s.mu.Unlock()
		return MintResult{}, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, token0.Hex(), token1.Hex(), fee)
	}
	p := s.pools[addr]

	sqrtA, err := SqrtRatioAtTick(tickLower)
	if err != nil {
		s.mu.Unlock()
		return MintResult{}, err
	}
	sqrtB, err := SqrtRatioAtTick(tickUpper)
	if err != nil {
		s.mu.Unlock()
		return MintResult{}, err
	}
	liquidity := utils.MaxLiquidityForAmounts(p.sqrtPriceX96, sqrtA, sqrtB, a0.BigInt(), a1.BigInt(), false)
	if liquidity.Sign() <= 0 {
		s.mu.Unlock()
		return MintResult{}, fmt.Errorf("%w: amounts yield no liquidity", ErrInvalidAmount)
	}
	used0, used1, err := p.rangeAmounts(tickLower, tickUpper, liquidity, true)
	if err != nil {
		s.mu.Unlock()
		return MintResult{}, err
	}
	id := s.nextID
	s.mu.Unlock()

	if err := s.bank.Transfer(t0, owner, addr, sdkmath.NewIntFromBigInt(used0)); err != nil {
		return MintResult{}, err
	}
	if err := s.bank.Transfer(t1, owner, addr, sdkmath.NewIntFromBigInt(used1)); err != nil {
		_ = s.bank.Transfer(t0, addr, owner, sdkmath.NewIntFromBigInt(used0))
		return MintResult{}, err
	}

	s.mu.Lock()
	s.nextID++
	s.positions[id] = &simPosition{
		owner:     owner,
		pool:      addr,
		tickLower: tickLower,
		tickUpper: tickUpper,
		liquidity: liquidity,
		owed0:     big.NewInt(0),
		owed1:     big.NewInt(0),
	}
	s.mu.Unlock()

	return MintResult{
		TokenID:   id,
		Pool:      addr,
		Liquidity: sdkmath.NewIntFromBigInt(liquidity),
		Amount0:   sdkmath.NewIntFromBigInt(used0),
		Amount1:   sdkmath.NewIntFromBigInt(used1),
	}, nil
}

func (s *Sim) IncreaseLiquidity(owner common.Address, tokenID uint64, amount0, amount1 sdkmath.Int) (LiquidityChange, error) {
	if amount0.IsNil() || amount1.IsNil() || amount0.IsNegative() || amount1.IsNegative() {
		return LiquidityChange{}, ErrInvalidAmount
	}
	s.mu.Lock()
	pos, ok := s.positions[tokenID]
	if !ok || pos.owner != owner {
		s.mu.Unlock()
		return LiquidityChange{}, fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	p := s.pools[pos.pool]
	sqrtA, _ := SqrtRatioAtTick(pos.tickLower)
	sqrtB, _ := SqrtRatioAtTick(pos.tickUpper)
	liquidity := utils.MaxLiquidityForAmounts(p.sqrtPriceX96, sqrtA, sqrtB, amount0.BigInt(), amount1.BigInt(), false)
	if liquidity.Sign() <= 0 {
		s.mu.Unlock()
		return LiquidityChange{}, fmt.Errorf("%w: amounts yield no liquidity", ErrInvalidAmount)
	}
	used0, used1, err := p.rangeAmounts(pos.tickLower, pos.tickUpper, liquidity, true)
	if err != nil {
		s.mu.Unlock()
		return LiquidityChange{}, err
	}
	token0, token1, addr := p.token0, p.token1, p.addr
	s.mu.Unlock()

	if err := s.bank.Transfer(token0, owner, addr, sdkmath.NewIntFromBigInt(used0)); err != nil {
		return LiquidityChange{}, err
	}
	if err := s.bank.Transfer(token1, owner, addr, sdkmath.NewIntFromBigInt(used1)); err != nil {
		_ = s.bank.Transfer(token0, addr, owner, sdkmath.NewIntFromBigInt(used0))
		return LiquidityChange{}, err
	}

	s.mu.Lock()
	pos.liquidity = new(big.Int).Add(pos.liquidity, liquidity)
	s.mu.Unlock()

	return LiquidityChange{
		Liquidity: sdkmath.NewIntFromBigInt(liquidity),
		Amount0:   sdkmath.NewIntFromBigInt(used0),
		Amount1:   sdkmath.NewIntFromBigInt(used1),
	}, nil
}

func (s *Sim) DecreaseLiquidity(owner common.Address, tokenID uint64, liquidity sdkmath.Int) (LiquidityChange, error) {
	if liquidity.IsNil() || !liquidity.IsPositive() {
		return LiquidityChange{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[tokenID]
	if !ok || pos.owner != owner {
		return LiquidityChange{}, fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	if pos.liquidity.Cmp(liquidity.BigInt()) < 0 {
		return LiquidityChange{}, fmt.Errorf("%w: position %d holds %s, requested %s",
			ErrInvalidAmount, tokenID, pos.liquidity, liquidity)
	}
	p := s.pools[pos.pool]
	out0, out1, err := p.rangeAmounts(pos.tickLower, pos.tickUpper, liquidity.BigInt(), false)
	if err != nil {
		return LiquidityChange{}, err
	}
	pos.liquidity = new(big.Int).Sub(pos.liquidity, liquidity.BigInt())
	pos.owed0 = new(big.Int).Add(pos.owed0, out0)
	pos.owed1 = new(big.Int).Add(pos.owed1, out1)
	return LiquidityChange{
		Liquidity: liquidity,
		Amount0:   sdkmath.NewIntFromBigInt(out0),
		Amount1:   sdkmath.NewIntFromBigInt(out1),
	}, nil
}

func (s *Sim) Collect(owner common.Address, tokenID uint64, max0, max1 sdkmath.Int) (Collected, error) {
	if max0.IsNil() || max1.IsNil() || max0.IsNegative() || max1.IsNegative() {
		return Collected{}, ErrInvalidAmount
	}
	s.mu.Lock()
	pos, ok := s.positions[tokenID]
	if !ok || pos.owner != owner {
		s.mu.Unlock()
		return Collected{}, fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	p := s.pools[pos.pool]
	pay0 := new(big.Int).Set(pos.owed0)
	if pay0.Cmp(max0.BigInt()) > 0 {
		pay0.Set(max0.BigInt())
	}
	pay1 := new(big.Int).Set(pos.owed1)
	if pay1.Cmp(max1.BigInt()) > 0 {
		pay1.Set(max1.BigInt())
	}
	token0, token1, addr := p.token0, p.token1, p.addr
	s.mu.Unlock()

	if err := s.bank.Transfer(token0, addr, owner, sdkmath.NewIntFromBigInt(pay0)); err != nil {
		return Collected{}, err
	}
	if err := s.bank.Transfer(token1, addr, owner, sdkmath.NewIntFromBigInt(pay1)); err != nil {
		_ = s.bank.Transfer(token0, owner, addr, sdkmath.NewIntFromBigInt(pay0))
		return Collected{}, err
	}

	s.mu.Lock()
	pos.owed0 = new(big.Int).Sub(pos.owed0, pay0)
	pos.owed1 = new(big.Int).Sub(pos.owed1, pay1)
	s.mu.Unlock()

	return Collected{
		Amount0: sdkmath.NewIntFromBigInt(pay0),
		Amount1: sdkmath.NewIntFromBigInt(pay1),
	}, nil
}

// Burn removes a position handle. Rejected while the position still holds
// liquidity or uncollected proceeds.
func (s *Sim) Burn(owner common.Address, tokenID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[tokenID]
	if !ok || pos.owner != owner {
		return fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	if pos.liquidity.Sign() > 0 || pos.owed0.Sign() > 0 || pos.owed1.Sign() > 0 {
		return fmt.Errorf("%w: token %d is not cleared", ErrInvalidAmount, tokenID)
	}
	delete(s.positions, tokenID)
	return nil
}

func (s *Sim) PositionLiquidity(tokenID uint64) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[tokenID]
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	return sdkmath.NewIntFromBigInt(pos.liquidity), nil
}

// AccruePositionFees credits earned trading fees to a position and funds the
// pool to pay them out on Collect. Test fixtures use this to simulate fee
// growth between operations.
func (s *Sim) AccruePositionFees(tokenID uint64, fee0, fee1 sdkmath.Int) error {
	s.mu.Lock()
	pos, ok := s.positions[tokenID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	p := s.pools[pos.pool]
	pos.owed0 = new(big.Int).Add(pos.owed0, fee0.BigInt())
	pos.owed1 = new(big.Int).Add(pos.owed1, fee1.BigInt())
	token0, token1, addr := p.token0, p.token1, p.addr
	s.mu.Unlock()

	if err := s.bank.Mint(addr, token0, fee0); err != nil {
		return err
	}
	return s.bank.Mint(addr, token1, fee1)
}

// TransferPosition moves custody of a position handle. The staking program
// uses this on deposit and withdraw.
func (s *Sim) TransferPosition(tokenID uint64, from, to common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[tokenID]
	if !ok {
		return fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	if pos.owner != from {
		return fmt.Errorf("%w: token %d is not held by %s", ErrPositionNotFound, tokenID, from.Hex())
	}
	pos.owner = to
	return nil
}

// PositionPool reports the pool a position handle belongs to.
func (s *Sim) PositionPool(tokenID uint64) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	return pos.pool, nil
}

// PositionOwner reports which identity currently holds the handle.
func (s *Sim) PositionOwner(tokenID uint64) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: token %d", ErrPositionNotFound, tokenID)
	}
	return pos.owner, nil
}
