// Package ledger holds the fungible token balances the registry takes custody of.
//
// Every account is a models.Holder. The registry's own account (the pool) is the
// spender of holder allowances: Pull moves tokens from a holder into the pool and
// Push moves them back out.
package ledger

import (
	"errors"
	"fmt"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/shopspring/decimal"
)

const DefaultPool models.Holder = "card-pool"

var (
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrNonPositiveAmount     = errors.New("amount must be positive")
)

// journal transaction types written to the balances table
const (
	ttypeMint     = "mint"
	ttypeDeposit  = "card_deposit"
	ttypeRefund   = "card_refund"
	ttypeReversal = "deposit_reversal"
)

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositiveAmount, amount)
	}
	return nil
}
