package withdraw

import "errors"

var (
	// ErrValidation marks missing or malformed request fields.
	ErrValidation = errors.New("validation error")
	// ErrInvalidOrExpired covers unknown, consumed and expired sessions.
	ErrInvalidOrExpired = errors.New("invalid or expired request")
	// ErrCardNotFound indicates the card behind a session or balance lookup is gone.
	ErrCardNotFound = errors.New("card not found")
	// ErrCardDisabled rejects payments for disabled cards.
	ErrCardDisabled = errors.New("card is disabled")
	// ErrInvalidPaymentRequest rejects invoices the executor cannot decode.
	ErrInvalidPaymentRequest = errors.New("invalid payment request")
	// ErrExceedsTxLimit rejects invoices above the card's per-payment limit.
	ErrExceedsTxLimit = errors.New("amount exceeds transaction limit")
	// ErrExceedsDayLimit rejects invoices that would push the day's spend over the limit.
	ErrExceedsDayLimit = errors.New("amount exceeds daily limit")
)

// Codes are the stable, machine-readable counterpart of LNURL error reasons.
const (
	CodeMalformedPayload      = "MALFORMED_PAYLOAD"
	CodeUnknownCard           = "UNKNOWN_CARD"
	CodeReplayDetected        = "REPLAY_DETECTED"
	CodeTagMismatch           = "TAG_MISMATCH"
	CodeValidation            = "VALIDATION"
	CodeCardNotFound          = "CARD_NOT_FOUND"
	CodeInvalidOrExpired      = "INVALID_OR_EXPIRED"
	CodeCardDisabled          = "CARD_DISABLED"
	CodeInvalidPaymentRequest = "INVALID_PAYMENT_REQUEST"
	CodeExceedsTxLimit        = "EXCEEDS_TX_LIMIT"
	CodeExceedsDayLimit       = "EXCEEDS_DAY_LIMIT"
	CodePaymentFailed         = "PAYMENT_FAILED"
	CodeInternal              = "INTERNAL"
)

// PaymentError wraps an executor failure. The session survives it.
type PaymentError struct {
	Reason string
	Err    error
}

func (e *PaymentError) Error() string { return "payment failed: " + e.Reason }

func (e *PaymentError) Unwrap() error { return e.Err }
