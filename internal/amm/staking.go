package amm

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kfund-labs/uniliq/internal/bank"
)

var (
	ErrIncentiveNotFound = errors.New("incentive does not exist")
	ErrIncentiveEnded    = errors.New("incentive has ended")
	ErrNotDeposited      = errors.New("position is not deposited")
	ErrAlreadyStaked     = errors.New("position is already staked")
	ErrNotStaked         = errors.New("position is not staked")
	ErrStillStaked       = errors.New("position is still staked")
)

type incentiveState struct {
	key       IncentiveKey
	remaining sdkmath.Int
	ended     bool
}

type stakeKey struct {
	incentive IncentiveKey
	tokenID   uint64
}

// SimStaking is the in-memory incentive program. Deposited handles move into
// program custody; rewards accrue per stake and pay out through the bank.
type SimStaking struct {
	mu         sync.Mutex
	dex        *Sim
	bank       *bank.Ledger
	program    common.Address
	incentives map[IncentiveKey]*incentiveState
	deposits   map[uint64]common.Address
	stakes     map[stakeKey]bool
	stakeCount map[uint64]int
	pending    map[common.Address]map[common.Address]sdkmath.Int
}

func NewSimStaking(dex *Sim, ledger *bank.Ledger, program common.Address) *SimStaking {
	return &SimStaking{
		dex:        dex,
		bank:       ledger,
		program:    program,
		incentives: make(map[IncentiveKey]*incentiveState),
		deposits:   make(map[uint64]common.Address),
		stakes:     make(map[stakeKey]bool),
		stakeCount: make(map[uint64]int),
		pending:    make(map[common.Address]map[common.Address]sdkmath.Int),
	}
}

// Program returns the custody identity deposited handles are held under.
func (st *SimStaking) Program() common.Address {
	return st.program
}

func (st *SimStaking) CreateIncentive(creator common.Address, key IncentiveKey, reward sdkmath.Int) error {
	if reward.IsNil() || !reward.IsPositive() {
		return fmt.Errorf("%w: reward must be positive", ErrInvalidAmount)
	}
	if key.StartTime >= key.EndTime {
		return fmt.Errorf("%w: incentive window is empty", ErrInvalidAmount)
	}
	if err := st.bank.Transfer(key.RewardToken, creator, st.program, reward); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if existing, ok := st.incentives[key]; ok {
		existing.remaining = existing.remaining.Add(reward)
		return nil
	}
	st.incentives[key] = &incentiveState{key: key, remaining: reward}
	return nil
}

func (st *SimStaking) Deposit(owner common.Address, tokenID uint64) error {
	if err := st.dex.TransferPosition(tokenID, owner, st.program); err != nil {
		return err
	}
	st.mu.Lock()
	st.deposits[tokenID] = owner
	st.mu.Unlock()
	return nil
}

func (st *SimStaking) Stake(key IncentiveKey, tokenID uint64) error {
	pool, err := st.dex.PositionPool(tokenID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	inc, ok := st.incentives[key]
	if !ok {
		return ErrIncentiveNotFound
	}
	if inc.ended {
		return ErrIncentiveEnded
	}
	if _, ok := st.deposits[tokenID]; !ok {
		return fmt.Errorf("%w: token %d", ErrNotDeposited, tokenID)
	}
	if pool != key.Pool {
		return fmt.Errorf("%w: token %d is not in the incentive pool", ErrInvalidAmount, tokenID)
	}
	sk := stakeKey{incentive: key, tokenID: tokenID}
	if st.stakes[sk] {
		return fmt.Errorf("%w: token %d", ErrAlreadyStaked, tokenID)
	}
	st.stakes[sk] = true
	st.stakeCount[tokenID]++
	return nil
}

func (st *SimStaking) Unstake(key IncentiveKey, tokenID uint64) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	sk := stakeKey{incentive: key, tokenID: tokenID}
	if !st.stakes[sk] {
		return fmt.Errorf("%w: token %d", ErrNotStaked, tokenID)
	}
	delete(st.stakes, sk)
	st.stakeCount[tokenID]--
	if st.stakeCount[tokenID] == 0 {
		delete(st.stakeCount, tokenID)
	}
	return nil
}

// AccrueReward moves part of an incentive's remaining reward into the
// depositor's pending balance. Test fixtures use this in place of
// time-weighted accrual.
func (st *SimStaking) AccrueReward(key IncentiveKey, tokenID uint64, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	inc, ok := st.incentives[key]
	if !ok {
		return ErrIncentiveNotFound
	}
	if !st.stakes[stakeKey{incentive: key, tokenID: tokenID}] {
		return fmt.Errorf("%w: token %d", ErrNotStaked, tokenID)
	}
	if inc.remaining.LT(amount) {
		return fmt.Errorf("%w: incentive has %s remaining", ErrInvalidAmount, inc.remaining)
	}
	inc.remaining = inc.remaining.Sub(amount)
	depositor := st.deposits[tokenID]
	byToken, ok := st.pending[key.RewardToken]
	if !ok {
		byToken = make(map[common.Address]sdkmath.Int)
		st.pending[key.RewardToken] = byToken
	}
	current, ok := byToken[depositor]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	byToken[depositor] = current.Add(amount)
	return nil
}

func (st *SimStaking) ClaimReward(rewardToken, to common.Address) (sdkmath.Int, error) {
	st.mu.Lock()
	amount := sdkmath.ZeroInt()
	if byToken, ok := st.pending[rewardToken]; ok {
		if pending, ok := byToken[to]; ok {
			amount = pending
			delete(byToken, to)
		}
	}
	st.mu.Unlock()
	if amount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	if err := st.bank.Transfer(rewardToken, st.program, to, amount); err != nil {
		st.mu.Lock()
		byToken := st.pending[rewardToken]
		if byToken == nil {
			byToken = make(map[common.Address]sdkmath.Int)
			st.pending[rewardToken] = byToken
		}
		byToken[to] = amount
		st.mu.Unlock()
		return sdkmath.ZeroInt(), err
	}
	return amount, nil
}

func (st *SimStaking) Withdraw(tokenID uint64, to common.Address) error {
	st.mu.Lock()
	if _, ok := st.deposits[tokenID]; !ok {
		st.mu.Unlock()
		return fmt.Errorf("%w: token %d", ErrNotDeposited, tokenID)
	}
	if st.stakeCount[tokenID] > 0 {
		st.mu.Unlock()
		return fmt.Errorf("%w: token %d", ErrStillStaked, tokenID)
	}
	st.mu.Unlock()
	if err := st.dex.TransferPosition(tokenID, st.program, to); err != nil {
		return err
	}
	st.mu.Lock()
	delete(st.deposits, tokenID)
	st.mu.Unlock()
	return nil
}

func (st *SimStaking) EndIncentive(key IncentiveKey) (sdkmath.Int, error) {
	st.mu.Lock()
	inc, ok := st.incentives[key]
	if !ok {
		st.mu.Unlock()
		return sdkmath.ZeroInt(), ErrIncentiveNotFound
	}
	if inc.ended {
		st.mu.Unlock()
		return sdkmath.ZeroInt(), ErrIncentiveEnded
	}
	refund := inc.remaining
	inc.ended = true
	inc.remaining = sdkmath.ZeroInt()
	st.mu.Unlock()
	if refund.IsPositive() {
		if err := st.bank.Transfer(key.RewardToken, st.program, key.Refundee, refund); err != nil {
			st.mu.Lock()
			inc.ended = false
			inc.remaining = refund
			st.mu.Unlock()
			return sdkmath.ZeroInt(), err
		}
	}
	return refund, nil
}
