package withdraw

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/congo-pay/boltcard/internal/card"
)

func TestWithdrawLimitScenario(t *testing.T) {
	h := newHarness(t, nil, nil, 1_000_000)
	ctx := context.Background()

	offer := h.open(t)
	if offer.MaxWithdrawable != 50_000_000 || offer.MinWithdrawable != 1_000 {
		t.Fatalf("unexpected withdrawable range: %d-%d", offer.MinWithdrawable, offer.MaxWithdrawable)
	}
	if offer.Tag != "withdrawRequest" || offer.Callback != "https://cards.test/withdraw/callback" {
		t.Fatalf("unexpected offer: %+v", offer)
	}
	if offer.BalanceCheck != "https://cards.test/card/balance/"+h.card.ID || offer.CardID != h.card.ID {
		t.Fatalf("unexpected balance link: %+v", offer)
	}
	if len(offer.K1) != 64 {
		t.Fatalf("expected 32-byte hex k1, got %q", offer.K1)
	}

	if _, err := h.svc.Consume(ctx, offer.K1, invoice(t, 60_000)); !errors.Is(err, ErrExceedsTxLimit) {
		t.Fatalf("expected tx limit error, got %v", err)
	}
	out, err := h.svc.Consume(ctx, offer.K1, invoice(t, 40_000))
	if err != nil {
		t.Fatalf("retry on preserved session: %v", err)
	}
	if out.AmountSats != 40_000 || out.PaymentHash == "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if spent, _ := h.spend.Current(ctx, h.card.ID); spent != 40_000 {
		t.Fatalf("expected 40000 spent, got %d", spent)
	}

	for i, want := range []int64{80_000, 120_000, 160_000} {
		offer := h.open(t)
		out, err := h.svc.Consume(ctx, offer.K1, invoice(t, 40_000))
		if err != nil {
			t.Fatalf("payment %d: %v", i+2, err)
		}
		if out.DailySpendSats != want {
			t.Fatalf("payment %d: expected daily spend %d, got %d", i+2, want, out.DailySpendSats)
		}
	}

	offer = h.open(t)
	if _, err := h.svc.Consume(ctx, offer.K1, invoice(t, 40_001)); !errors.Is(err, ErrExceedsDayLimit) {
		t.Fatalf("expected day limit error at 200001, got %v", err)
	}
	if _, err := h.svc.Consume(ctx, offer.K1, invoice(t, 40_000)); err != nil {
		t.Fatalf("exactly reaching the day limit should pass: %v", err)
	}
	if spent, _ := h.spend.Current(ctx, h.card.ID); spent != 200_000 {
		t.Fatalf("expected 200000 spent, got %d", spent)
	}

	view, err := h.svc.Balance(ctx, h.card.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if view.Balance != 800_000 || view.RemainingDailyLimit != 0 || view.Username != "alice" {
		t.Fatalf("unexpected balance view: %+v", view)
	}
	records, _ := h.payments.ListByCard(ctx, h.card.ID, 0)
	if len(records) != 5 {
		t.Fatalf("expected 5 payment records, got %d", len(records))
	}
}

func TestConcurrentCallbacksPayOnce(t *testing.T) {
	h := newHarness(t, nil, nil, 1_000_000)
	offer := h.open(t)

	const racers = 10
	var ok, invalid int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		pr := invoice(t, 1_000)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Consume(context.Background(), offer.K1, pr)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrInvalidOrExpired):
				atomic.AddInt32(&invalid, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || invalid != racers-1 {
		t.Fatalf("expected 1 OK and %d invalid, got %d/%d", racers-1, ok, invalid)
	}
	owner, _ := h.ids.ResolveOwner(context.Background(), h.owner.ID)
	if owner.Balance != 999_000 {
		t.Fatalf("expected a single debit, balance %d", owner.Balance)
	}
}

func TestConcurrentSessionsRespectDayLimit(t *testing.T) {
	h := newHarness(t, nil, nil, 1_000_000)
	offers := make([]Offer, 6)
	for i := range offers {
		offers[i] = h.open(t)
	}

	var ok, limited int32
	var wg sync.WaitGroup
	for _, offer := range offers {
		pr := invoice(t, 50_000)
		wg.Add(1)
		go func(k1 string) {
			defer wg.Done()
			_, err := h.svc.Consume(context.Background(), k1, pr)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrExceedsDayLimit):
				atomic.AddInt32(&limited, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(offer.K1)
	}
	wg.Wait()

	if ok != 4 || limited != 2 {
		t.Fatalf("expected 4 paid and 2 limited, got %d/%d", ok, limited)
	}
	if spent, _ := h.spend.Current(context.Background(), h.card.ID); spent != 200_000 {
		t.Fatalf("expected 200000 spent, got %d", spent)
	}
}

func TestPaymentFailurePreservesSessionAndReleasesSpend(t *testing.T) {
	h := newHarness(t, nil, nil, 0)
	ctx := context.Background()
	offer := h.open(t)

	_, err := h.svc.Consume(ctx, offer.K1, invoice(t, 1_000))
	var payErr *PaymentError
	if !errors.As(err, &payErr) {
		t.Fatalf("expected payment error, got %v", err)
	}
	if spent, _ := h.spend.Current(ctx, h.card.ID); spent != 0 {
		t.Fatalf("expected reservation released, got %d", spent)
	}

	if _, err := h.ids.Deposit(ctx, h.owner.ID, "top-up", 5_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.svc.Consume(ctx, offer.K1, invoice(t, 1_000)); err != nil {
		t.Fatalf("retry after top-up: %v", err)
	}
}

func TestDisabledCardEndsSession(t *testing.T) {
	h := newHarness(t, nil, nil, 1_000_000)
	ctx := context.Background()
	offer := h.open(t)

	disabled := card.StatusDisabled
	if _, err := h.cards.Update(ctx, h.card.ID, h.owner.ID, card.UpdateInput{Status: &disabled}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := h.svc.Consume(ctx, offer.K1, invoice(t, 1_000)); !errors.Is(err, ErrCardDisabled) {
		t.Fatalf("expected card disabled, got %v", err)
	}
	if _, err := h.svc.Consume(ctx, offer.K1, invoice(t, 1_000)); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected session gone after disabled card, got %v", err)
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	h := newHarness(t, nil, nil, 1_000_000)
	offer := h.open(t)

	h.svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	if _, err := h.svc.Consume(context.Background(), offer.K1, invoice(t, 1_000)); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected expired session, got %v", err)
	}
	h.svc.now = time.Now
	if _, err := h.svc.Consume(context.Background(), offer.K1, invoice(t, 1_000)); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expired session must be gone, got %v", err)
	}
}

func TestDeletingCardCancelsSessions(t *testing.T) {
	h := newHarness(t, nil, nil, 1_000_000)
	ctx := context.Background()
	offer := h.open(t)

	if err := h.cards.Delete(ctx, h.card.ID, h.owner.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.svc.Consume(ctx, offer.K1, invoice(t, 1_000)); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected invalid session after delete, got %v", err)
	}
}

func TestConsumeValidation(t *testing.T) {
	h := newHarness(t, nil, nil, 1_000_000)
	ctx := context.Background()
	if _, err := h.svc.Consume(ctx, "", "lnbc1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.svc.Consume(ctx, "unknown", invoice(t, 1)); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected invalid k1, got %v", err)
	}

	offer := h.open(t)
	if _, err := h.svc.Consume(ctx, offer.K1, "lnbc-garbage"); !errors.Is(err, ErrInvalidPaymentRequest) {
		t.Fatalf("expected invalid payment request, got %v", err)
	}
	if _, err := h.svc.Consume(ctx, offer.K1, invoice(t, 1_000)); err != nil {
		t.Fatalf("session should survive a bad invoice: %v", err)
	}
}
