package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountNotFound indicates no account exists for the code.
	ErrAccountNotFound = errors.New("account not found")
)

const (
	// StatusCompleted represents a settled transaction.
	StatusCompleted = "completed"

	// SettlementAccountCode is the external Lightning settlement account. It is
	// allowed to run negative since it mirrors funds held outside the ledger.
	SettlementAccountCode = "settlement:lightning"

	// KindPayout marks an owner debit paid out over Lightning.
	KindPayout = "lightning_payout"
	// KindDeposit marks an owner credit received over Lightning.
	KindDeposit = "lightning_deposit"
)

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// Amounts are satoshis.
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error)
	Payout(ctx context.Context, accountCode, clientTxID string, amount int64) (TransactionResult, error)
	Deposit(ctx context.Context, accountCode, clientTxID string, amount int64) (TransactionResult, error)
}
