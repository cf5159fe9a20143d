package withdraw

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/boltcard/internal/card"
	"github.com/congo-pay/boltcard/internal/identity"
	"github.com/congo-pay/boltcard/internal/ledger"
	"github.com/congo-pay/boltcard/internal/lightning"
	"github.com/congo-pay/boltcard/internal/logging"
	"github.com/congo-pay/boltcard/internal/spending"
	"github.com/congo-pay/boltcard/internal/tap"
)

const harnessUID = "04a1b2c3d4e5f6"

type harness struct {
	cards    *card.Service
	cardRepo card.Repository
	ids      *identity.Service
	sessions Store
	spend    spending.Ledger
	payments PaymentStore
	svc      *Service
	auth     *tap.Authenticator
	owner    identity.User
	card     card.Card
	counter  uint16
}

func newHarness(t *testing.T, sessions Store, spend spending.Ledger, balance int64) *harness {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	if sessions == nil {
		sessions = NewMemoryStore()
	}
	if spend == nil {
		spend = spending.NewMemoryLedger(spending.NewCalendar(time.UTC, 48*time.Hour))
	}

	l := ledger.NewInMemory()
	ids := identity.NewService(identity.NewMemoryRepository(), l, logger)
	owner, err := ids.Register(ctx, identity.Credentials{Username: "alice", PIN: "1234"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if balance > 0 {
		if _, err := ids.Deposit(ctx, owner.ID, "seed", balance); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	cardRepo := card.NewMemoryRepository()
	cards := card.NewService(cardRepo, card.Limits{TxLimitSats: 50_000, DayLimitSats: 200_000}, sessions, logger)
	c, err := cards.Create(ctx, card.CreateInput{UserID: owner.ID, Name: "Coffee", TxLimitSats: 50_000, DayLimitSats: 200_000})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if c, err = cards.Pair(ctx, c.ID, owner.ID, harnessUID); err != nil {
		t.Fatalf("pair: %v", err)
	}
	if _, err := cardRepo.AdvanceCounter(ctx, c.ID, 4, time.Now()); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	payments := NewMemoryPaymentStore()
	svc := NewService(cards, sessions, spend, lightning.NewLedgerExecutor(l, logger), ids, payments, nil,
		Config{PublicBaseURL: "https://cards.test/", SessionTTL: 5 * time.Minute}, logger)

	return &harness{
		cards:    cards,
		cardRepo: cardRepo,
		ids:      ids,
		sessions: sessions,
		spend:    spend,
		payments: payments,
		svc:      svc,
		auth:     tap.NewAuthenticator(cardRepo, nil, nil, logger),
		owner:    owner,
		card:     c,
		counter:  4,
	}
}

// nextTap produces the payload and tag for the card's next counter value.
func (h *harness) nextTap(t *testing.T) (string, string) {
	t.Helper()
	h.counter++
	p, c, err := tap.EncodeTap(harnessUID, h.counter, h.card.K2, tap.LegacyTag)
	if err != nil {
		t.Fatalf("encode tap: %v", err)
	}
	return p, c
}

func (h *harness) open(t *testing.T) Offer {
	t.Helper()
	p, c := h.nextTap(t)
	verified, err := h.auth.AuthenticateHex(context.Background(), p, c)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	offer, err := h.svc.Open(context.Background(), verified)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return offer
}

func invoice(t *testing.T, sats int64) string {
	t.Helper()
	hash := sha256.Sum256([]byte(uuid.NewString()))
	pr, err := lightning.EncodeInvoice(sats*1000, hash[:], "", time.Now())
	if err != nil {
		t.Fatalf("encode invoice: %v", err)
	}
	return pr
}
