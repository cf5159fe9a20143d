package withdraw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/boltcard/internal/card"
	"github.com/congo-pay/boltcard/internal/identity"
	"github.com/congo-pay/boltcard/internal/lightning"
	"github.com/congo-pay/boltcard/internal/notification"
	"github.com/congo-pay/boltcard/internal/spending"
	"github.com/congo-pay/boltcard/internal/tap"
)

const (
	k1Bytes         = 32
	k1Attempts      = 3
	defaultTTL      = 5 * time.Minute
	defaultMinMsat  = 1_000
	withdrawTag     = "withdrawRequest"
	callbackPath    = "/withdraw/callback"
	balancePathBase = "/card/balance/"
	payPathBase     = "/pay/"
)

// CardSource resolves cards by id.
type CardSource interface {
	Get(ctx context.Context, id string) (card.Card, error)
}

// Executor decodes and pays Lightning invoices on behalf of an owner.
type Executor interface {
	DecodeAmount(ctx context.Context, pr string) (int64, error)
	PayInvoice(ctx context.Context, userID, pr string) (lightning.Payment, error)
}

// OwnerResolver returns the owner of a card with their balance.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, userID string) (identity.Owner, error)
}

// Config carries the protocol parameters of withdraw offers.
type Config struct {
	PublicBaseURL       string
	SessionTTL          time.Duration
	MinWithdrawableMsat int64
}

// Offer is the LNURL-withdraw response returned to the tapping device.
type Offer struct {
	Tag                string `json:"tag"`
	Callback           string `json:"callback"`
	K1                 string `json:"k1"`
	MinWithdrawable    int64  `json:"minWithdrawable"`
	MaxWithdrawable    int64  `json:"maxWithdrawable"`
	DefaultDescription string `json:"defaultDescription"`
	BalanceCheck       string `json:"balanceCheck"`
	PayLink            string `json:"payLink"`
	CardName           string `json:"cardName"`
	CardID             string `json:"cardId"`
}

// Outcome is a settled callback.
type Outcome struct {
	PaymentHash    string
	AmountSats     int64
	DailySpendSats int64
}

// BalanceView is the public balance and limits summary for a card.
type BalanceView struct {
	Status               string `json:"status"`
	CardID               string `json:"cardId"`
	CardName             string `json:"cardName"`
	CardStatus           string `json:"cardStatus"`
	Balance              int64  `json:"balance"`
	TxLimit              int64  `json:"txLimit"`
	DayLimit             int64  `json:"dayLimit"`
	CurrentDailySpending int64  `json:"currentDailySpending"`
	RemainingDailyLimit  int64  `json:"remainingDailyLimit"`
	Username             string `json:"username"`
}

// Service opens withdraw sessions for verified taps and settles their callbacks.
type Service struct {
	cards    CardSource
	sessions Store
	spend    spending.Ledger
	exec     Executor
	owners   OwnerResolver
	payments PaymentStore
	notifier notification.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the withdraw session manager. notifier may be nil.
func NewService(cards CardSource, sessions Store, spend spending.Ledger, exec Executor, owners OwnerResolver,
	payments PaymentStore, notifier notification.Notifier, cfg Config, logger *slog.Logger) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultTTL
	}
	if cfg.MinWithdrawableMsat <= 0 {
		cfg.MinWithdrawableMsat = defaultMinMsat
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cards:    cards,
		sessions: sessions,
		spend:    spend,
		exec:     exec,
		owners:   owners,
		payments: payments,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Open issues a single-use session for an authenticated tap.
func (s *Service) Open(ctx context.Context, t tap.Tap) (Offer, error) {
	c := t.Card
	if !c.Active() {
		return Offer{}, ErrCardDisabled
	}
	owner, err := s.owners.ResolveOwner(ctx, c.UserID)
	if err != nil {
		return Offer{}, fmt.Errorf("resolve owner: %w", err)
	}

	now := s.now().UTC()
	session := Session{
		CardID:    c.ID,
		UID:       t.UID,
		Counter:   t.Counter,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	for attempt := 0; ; attempt++ {
		if session.K1, err = newK1(); err != nil {
			return Offer{}, err
		}
		err = s.sessions.Create(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrSessionExists) || attempt+1 >= k1Attempts {
			return Offer{}, fmt.Errorf("create session: %w", err)
		}
	}

	s.logger.Info("withdraw session opened",
		slog.String("card_id", c.ID),
		slog.String("uid", t.UID),
		slog.Int("counter", int(t.Counter)),
		slog.String("k1", shortK1(session.K1)),
	)

	return Offer{
		Tag:                withdrawTag,
		Callback:           s.cfg.PublicBaseURL + callbackPath,
		K1:                 session.K1,
		MinWithdrawable:    s.cfg.MinWithdrawableMsat,
		MaxWithdrawable:    c.TxLimitSats * 1000,
		DefaultDescription: "Bolt Card payment for " + owner.Username,
		BalanceCheck:       s.cfg.PublicBaseURL + balancePathBase + c.ID,
		PayLink:            s.cfg.PublicBaseURL + payPathBase + owner.Username,
		CardName:           c.Name,
		CardID:             c.ID,
	}, nil
}

// Consume settles the payment request against the session for k1. The
// session is claimed up front; failures the device may retry put it back.
func (s *Service) Consume(ctx context.Context, k1, pr string) (Outcome, error) {
	k1, pr = strings.TrimSpace(k1), strings.TrimSpace(pr)
	if k1 == "" || pr == "" {
		return Outcome{}, fmt.Errorf("%w: k1 and pr are required", ErrValidation)
	}

	session, err := s.sessions.Claim(ctx, k1)
	if errors.Is(err, ErrSessionNotFound) {
		s.reject(k1, "", ErrInvalidOrExpired)
		return Outcome{}, ErrInvalidOrExpired
	}
	if err != nil {
		return Outcome{}, err
	}
	if session.Expired(s.now()) {
		s.reject(k1, session.CardID, ErrInvalidOrExpired)
		return Outcome{}, ErrInvalidOrExpired
	}

	out, err := s.settle(ctx, session, pr)
	if err != nil {
		if retryable(err) {
			if restoreErr := s.sessions.Restore(ctx, session); restoreErr != nil {
				s.logger.Error("restore session failed",
					slog.String("card_id", session.CardID),
					slog.String("k1", shortK1(k1)),
					slog.Any("error", restoreErr),
				)
			}
		}
		s.reject(k1, session.CardID, err)
		return Outcome{}, err
	}
	return out, nil
}

func (s *Service) settle(ctx context.Context, session Session, pr string) (Outcome, error) {
	c, err := s.cards.Get(ctx, session.CardID)
	if errors.Is(err, card.ErrNotFound) {
		return Outcome{}, ErrCardNotFound
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load card: %w", err)
	}
	if !c.Active() {
		return Outcome{}, ErrCardDisabled
	}

	amountMsat, err := s.exec.DecodeAmount(ctx, pr)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidPaymentRequest, err)
	}
	if amountMsat < s.cfg.MinWithdrawableMsat {
		return Outcome{}, fmt.Errorf("%w: amount below minimum of %d msat", ErrInvalidPaymentRequest, s.cfg.MinWithdrawableMsat)
	}
	if amountMsat > c.TxLimitSats*1000 {
		return Outcome{}, fmt.Errorf("%w of %d sats", ErrExceedsTxLimit, c.TxLimitSats)
	}

	amountSats := lightning.MsatToSats(amountMsat)
	reservation, err := s.spend.Reserve(ctx, c.ID, amountSats, c.DayLimitSats)
	if errors.Is(err, spending.ErrLimitExceeded) {
		return Outcome{}, fmt.Errorf("%w of %d sats (current: %d)", ErrExceedsDayLimit, c.DayLimitSats, reservation.Total)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("reserve daily spend: %w", err)
	}

	payment, err := s.exec.PayInvoice(ctx, c.UserID, pr)
	if err != nil {
		if releaseErr := s.spend.Release(ctx, reservation); releaseErr != nil {
			s.logger.Error("release daily spend failed",
				slog.String("card_id", c.ID),
				slog.Int64("amount_sats", amountSats),
				slog.Any("error", releaseErr),
			)
		}
		return Outcome{}, &PaymentError{Reason: err.Error(), Err: err}
	}

	record := PaymentRecord{
		ID:          uuid.NewString(),
		CardID:      c.ID,
		UserID:      c.UserID,
		AmountSats:  payment.AmountSats,
		PaymentHash: payment.Hash,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.payments.Record(ctx, record); err != nil {
		s.logger.Error("record card payment failed",
			slog.String("card_id", c.ID),
			slog.String("payment_hash", payment.Hash),
			slog.Any("error", err),
		)
	}
	s.notify(ctx, c, payment)

	s.logger.Info("withdraw settled",
		slog.String("card_id", c.ID),
		slog.String("uid", session.UID),
		slog.Int("counter", int(session.Counter)),
		slog.String("k1", shortK1(session.K1)),
		slog.Int64("amount_sats", payment.AmountSats),
		slog.String("payment_hash", payment.Hash),
	)
	return Outcome{PaymentHash: payment.Hash, AmountSats: payment.AmountSats, DailySpendSats: reservation.Total}, nil
}

// Balance returns the public balance summary of a card.
func (s *Service) Balance(ctx context.Context, cardID string) (BalanceView, error) {
	c, err := s.cards.Get(ctx, cardID)
	if errors.Is(err, card.ErrNotFound) {
		return BalanceView{}, ErrCardNotFound
	}
	if err != nil {
		return BalanceView{}, fmt.Errorf("load card: %w", err)
	}
	owner, err := s.owners.ResolveOwner(ctx, c.UserID)
	if err != nil {
		return BalanceView{}, fmt.Errorf("resolve owner: %w", err)
	}
	spent, err := s.spend.Current(ctx, c.ID)
	if err != nil {
		return BalanceView{}, err
	}
	remaining := c.DayLimitSats - spent
	if remaining < 0 {
		remaining = 0
	}
	return BalanceView{
		Status:               "OK",
		CardID:               c.ID,
		CardName:             c.Name,
		CardStatus:           string(c.Status),
		Balance:              owner.Balance,
		TxLimit:              c.TxLimitSats,
		DayLimit:             c.DayLimitSats,
		CurrentDailySpending: spent,
		RemainingDailyLimit:  remaining,
		Username:             owner.Username,
	}, nil
}

// Payments lists recent settled payments of a card.
func (s *Service) Payments(ctx context.Context, cardID string, limit int) ([]PaymentRecord, error) {
	return s.payments.ListByCard(ctx, cardID, limit)
}

func (s *Service) notify(ctx context.Context, c card.Card, p lightning.Payment) {
	if s.notifier == nil {
		return
	}
	msg := notification.Message{
		Kind:        notification.KindCardPayment,
		Destination: c.UserID,
		Body:        fmt.Sprintf("%s paid %d sats", c.Name, p.AmountSats),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("card payment notification failed", slog.String("card_id", c.ID), slog.Any("error", err))
	}
}

func (s *Service) reject(k1, cardID string, reason error) {
	attrs := []any{
		slog.String("k1", shortK1(k1)),
		slog.String("reason", reason.Error()),
	}
	if cardID != "" {
		attrs = append(attrs, slog.String("card_id", cardID))
	}
	s.logger.Warn("withdraw callback rejected", attrs...)
}

// retryable reports whether the session stays open after err. Only a card
// that vanished or was disabled ends it.
func retryable(err error) bool {
	return !errors.Is(err, ErrCardNotFound) && !errors.Is(err, ErrCardDisabled)
}

func newK1() (string, error) {
	buf := make([]byte, k1Bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate k1: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
