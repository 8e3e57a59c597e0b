/*

Capability-gated caller identity. Every mutating operation declares which
identities may invoke it (governance, strategist, the bound fund, the
component itself, or anyone) and rejects other callers before any state
changes.

*/

package gov

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotAuthorized = errors.New("caller is not authorized")
	ErrZeroAddress   = errors.New("identity address is zero")
)

// Identity holds the privileged addresses of a deployment. Rewards is the
// fee-recipient account all fee shares are minted to.
type Identity struct {
	Governance common.Address
	Strategist common.Address
	Rewards    common.Address
}

// NewIdentity validates and returns the capability identity set.
func NewIdentity(governance, strategist, rewards common.Address) (*Identity, error) {
	if governance == (common.Address{}) {
		return nil, fmt.Errorf("%w: governance", ErrZeroAddress)
	}
	if strategist == (common.Address{}) {
		strategist = governance
	}
	if rewards == (common.Address{}) {
		rewards = governance
	}
	return &Identity{Governance: governance, Strategist: strategist, Rewards: rewards}, nil
}

// IsGovernance reports whether caller holds the governance capability.
func (id *Identity) IsGovernance(caller common.Address) bool {
	return caller == id.Governance
}

// IsStrategist reports whether caller holds the strategist capability.
func (id *Identity) IsStrategist(caller common.Address) bool {
	return caller == id.Strategist
}

// RequireGovernance rejects any caller but governance.
func (id *Identity) RequireGovernance(caller common.Address) error {
	if !id.IsGovernance(caller) {
		return fmt.Errorf("%w: %s is not governance", ErrNotAuthorized, caller.Hex())
	}
	return nil
}

// RequireGovernanceOrStrategist rejects callers holding neither capability.
func (id *Identity) RequireGovernanceOrStrategist(caller common.Address) error {
	if !id.IsGovernance(caller) && !id.IsStrategist(caller) {
		return fmt.Errorf("%w: %s is not governance and not strategist", ErrNotAuthorized, caller.Hex())
	}
	return nil
}

// RequireAuthorized admits governance, the strategist, and any of the extra
// identities (typically the bound fund and the component itself).
func (id *Identity) RequireAuthorized(caller common.Address, extra ...common.Address) error {
	if id.IsGovernance(caller) || id.IsStrategist(caller) {
		return nil
	}
	for _, a := range extra {
		if a != (common.Address{}) && caller == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotAuthorized, caller.Hex())
}
