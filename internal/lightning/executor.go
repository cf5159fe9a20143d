package lightning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/boltcard/internal/identity"
	"github.com/congo-pay/boltcard/internal/ledger"
)

var (
	// ErrInvoiceExpired rejects invoices past their expiry.
	ErrInvoiceExpired = errors.New("payment request expired")
	// ErrAlreadyPaid indicates the payment hash was settled before.
	ErrAlreadyPaid = errors.New("payment request already paid")
	// ErrInsufficientBalance indicates the owner cannot cover the invoice.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Payment is a settled invoice.
type Payment struct {
	Hash       string
	AmountMsat int64
	AmountSats int64
	Balance    int64
}

// LedgerExecutor settles invoices by moving the owner's funds to the
// Lightning settlement account of the internal ledger.
type LedgerExecutor struct {
	ledger ledger.Ledger
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerExecutor builds a ledger-backed payment executor.
func NewLedgerExecutor(l ledger.Ledger, logger *slog.Logger) *LedgerExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerExecutor{ledger: l, logger: logger, now: time.Now}
}

// DecodeAmount returns the invoice amount in millisatoshis.
func (e *LedgerExecutor) DecodeAmount(_ context.Context, pr string) (int64, error) {
	inv, err := DecodeInvoice(pr)
	if err != nil {
		return 0, err
	}
	if inv.AmountMsat <= 0 {
		return 0, ErrNoAmount
	}
	return inv.AmountMsat, nil
}

// PayInvoice debits the owner for the invoice amount, rounded up to whole sats.
// The payment hash is the ledger idempotency key.
func (e *LedgerExecutor) PayInvoice(ctx context.Context, userID, pr string) (Payment, error) {
	inv, err := DecodeInvoice(pr)
	if err != nil {
		return Payment{}, err
	}
	if inv.AmountMsat <= 0 {
		return Payment{}, ErrNoAmount
	}
	if e.now().After(inv.ExpiresAt()) {
		return Payment{}, ErrInvoiceExpired
	}

	sats := MsatToSats(inv.AmountMsat)
	res, err := e.ledger.Payout(ctx, identity.AccountCode(userID), inv.PaymentHash, sats)
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return Payment{}, ErrInsufficientBalance
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return Payment{}, ErrAlreadyPaid
	case err != nil:
		return Payment{}, fmt.Errorf("ledger payout: %w", err)
	}

	e.logger.Info("invoice paid",
		slog.String("user_id", userID),
		slog.String("payment_hash", inv.PaymentHash),
		slog.Int64("amount_sats", sats),
	)
	return Payment{Hash: inv.PaymentHash, AmountMsat: inv.AmountMsat, AmountSats: sats, Balance: res.FromBalance}, nil
}

// MsatToSats converts millisatoshis to satoshis, rounding up.
func MsatToSats(msat int64) int64 {
	return (msat + 999) / 1000
}
