/*

In-process token balance ledger. Stands in for the external token substrate:
investors, the fund, the position manager and the AMM pools all hold their
balances here, and every settlement moves value through Transfer.

*/

package bank

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kfund-labs/uniliq/internal/logger"
)

var (
	ErrInsufficientFunds = errors.New("insufficient token balance")
	ErrInvalidAmount     = errors.New("amount is invalid")
)

var bankLogger = logger.GetForComponent("bank")

// Ledger tracks per-holder token balances. All amounts are non-negative
// integers in the token's base unit.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]sdkmath.Int // holder -> token -> amount
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[common.Address]map[common.Address]sdkmath.Int)}
}

// BalanceOf returns the holder's balance of token (zero when unseen).
func (l *Ledger) BalanceOf(holder, token common.Address) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceOf(holder, token)
}

func (l *Ledger) balanceOf(holder, token common.Address) sdkmath.Int {
	if tokens, ok := l.balances[holder]; ok {
		if bal, ok := tokens[token]; ok {
			return bal
		}
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) set(holder, token common.Address, amount sdkmath.Int) {
	tokens, ok := l.balances[holder]
	if !ok {
		tokens = make(map[common.Address]sdkmath.Int)
		l.balances[holder] = tokens
	}
	tokens[token] = amount
}

// Mint credits new units of token to holder. Used to fund identities at
// bootstrap and by pool fixtures in tests.
func (l *Ledger) Mint(holder, token common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: mint %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(holder, token, l.balanceOf(holder, token).Add(amount))
	return nil
}

// Transfer moves amount of token from one holder to another. The transfer
// applies in full or not at all.
func (l *Ledger) Transfer(token, from, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: transfer %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal := l.balanceOf(from, token)
	if fromBal.LT(amount) {
		return fmt.Errorf("%w: %s has %s of %s, need %s",
			ErrInsufficientFunds, from.Hex(), fromBal, token.Hex(), amount)
	}
	l.set(from, token, fromBal.Sub(amount))
	l.set(to, token, l.balanceOf(to, token).Add(amount))

	bankLogger.Debug().
		Str("token", token.Hex()).
		Str("from", from.Hex()).
		Str("to", to.Hex()).
		Str("amount", amount.String()).
		Msg("Transfer settled")
	return nil
}
