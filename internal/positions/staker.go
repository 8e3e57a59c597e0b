/*

Incentive program adapter. Moves position handles between the manager and an
external staking program, tracks custody on the manager's position set, and
harvests rewards into the treasury. A staked position stays in the active
set and keeps its spot valuation; only its handle custody changes.

*/

package positions

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/kfund-labs/uniliq/internal/amm"
	"github.com/kfund-labs/uniliq/internal/gov"
	"github.com/kfund-labs/uniliq/internal/logger"
	"github.com/kfund-labs/uniliq/internal/types"
)

// Staker drives one external incentive program on behalf of a manager.
type Staker struct {
	mgr     *Manager
	program amm.Staking
	addr    common.Address // custody identity of the program
	log     zerolog.Logger
}

func NewStaker(mgr *Manager, program amm.Staking, programAddr common.Address) (*Staker, error) {
	if programAddr == (common.Address{}) {
		return nil, gov.ErrZeroAddress
	}
	return &Staker{
		mgr:     mgr,
		program: program,
		addr:    programAddr,
		log:     logger.GetForComponent("staker"),
	}, nil
}

// CreateIncentive funds a new incentive from the treasury.
func (s *Staker) CreateIncentive(caller common.Address, key amm.IncentiveKey, reward sdkmath.Int) error {
	if err := s.mgr.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	return s.program.CreateIncentive(s.mgr.self, key, reward)
}

// StakeNFT deposits a self-held position's handle with the program. The
// position stays in the active set with staked custody.
func (s *Staker) StakeNFT(caller common.Address, tokenID uint64) error {
	if err := s.mgr.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	pos, err := s.mgr.positionByID(tokenID)
	if err != nil {
		return err
	}
	if pos.Custody == types.CustodyStaked {
		return fmt.Errorf("%w: token %d", ErrPositionStaked, tokenID)
	}
	if err := s.program.Deposit(s.mgr.self, tokenID); err != nil {
		return err
	}
	pos.Custody = types.CustodyStaked
	pos.StakedWith = s.addr
	s.mgr.recorder.Record(types.Staker{TokenID: tokenID, Program: s.addr})
	s.log.Info().Uint64("token_id", tokenID).Str("program", s.addr.Hex()).Msg("Position deposited with incentive program")
	return nil
}

// StakeToken enrolls a deposited position in an incentive.
func (s *Staker) StakeToken(caller common.Address, key amm.IncentiveKey, tokenID uint64) error {
	if err := s.mgr.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	pos, err := s.mgr.positionByID(tokenID)
	if err != nil {
		return err
	}
	if pos.Custody != types.CustodyStaked {
		return fmt.Errorf("%w: token %d is not deposited", ErrUnknownPosition, tokenID)
	}
	return s.program.Stake(key, tokenID)
}

// UnstakeToken withdraws a position from an incentive. The handle stays
// deposited until WithdrawToken.
func (s *Staker) UnstakeToken(caller common.Address, key amm.IncentiveKey, tokenID uint64) error {
	if err := s.mgr.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	return s.program.Unstake(key, tokenID)
}

// ClaimReward harvests accrued rewards for the treasury and returns the
// amount received.
func (s *Staker) ClaimReward(caller common.Address, rewardToken common.Address) (sdkmath.Int, error) {
	if err := s.mgr.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return sdkmath.ZeroInt(), err
	}
	got, err := s.program.ClaimReward(rewardToken, s.mgr.self)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if got.IsPositive() {
		s.log.Info().Str("token", rewardToken.Hex()).Str("amount", got.String()).Msg("Incentive reward claimed")
	}
	return got, nil
}

// WithdrawToken returns a deposited handle to the manager's custody.
func (s *Staker) WithdrawToken(caller common.Address, tokenID uint64) error {
	if err := s.mgr.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	pos, err := s.mgr.positionByID(tokenID)
	if err != nil {
		return err
	}
	if pos.Custody != types.CustodyStaked {
		return fmt.Errorf("%w: token %d is not deposited", ErrUnknownPosition, tokenID)
	}
	if err := s.program.Withdraw(tokenID, s.mgr.self); err != nil {
		return err
	}
	pos.Custody = types.CustodySelf
	pos.StakedWith = common.Address{}
	s.mgr.recorder.Record(types.UnStaker{TokenID: tokenID, Program: s.addr})
	s.log.Info().Uint64("token_id", tokenID).Str("program", s.addr.Hex()).Msg("Position returned to manager custody")
	return nil
}

// EndIncentive closes an incentive and reports the refunded remainder.
func (s *Staker) EndIncentive(caller common.Address, key amm.IncentiveKey) (sdkmath.Int, error) {
	if err := s.mgr.identity.RequireGovernance(caller); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return s.program.EndIncentive(key)
}

// CheckStakers lists the positions currently deposited with the program.
func (s *Staker) CheckStakers() []types.Position {
	out := make([]types.Position, 0)
	for _, pos := range s.mgr.WorksPos() {
		if pos.Custody == types.CustodyStaked && pos.StakedWith == s.addr {
			out = append(out, pos)
		}
	}
	return out
}
