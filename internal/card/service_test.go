package card

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/boltcard/internal/logging"
)

type recordingCanceller struct {
	cancelled []string
}

func (r *recordingCanceller) DeleteByCard(_ context.Context, cardID string) error {
	r.cancelled = append(r.cancelled, cardID)
	return nil
}

func newTestService(t *testing.T, sessions SessionCanceller) (*Service, Repository) {
	t.Helper()
	repo := NewMemoryRepository()
	return NewService(repo, Limits{TxLimitSats: 50_000, DayLimitSats: 200_000}, sessions, logging.Discard()), repo
}

func TestCreateGeneratesKeysAndDefaults(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateInput{UserID: uuid.NewString(), Name: "Coffee card"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.TxLimitSats != 50_000 || c.DayLimitSats != 200_000 {
		t.Fatalf("expected default limits, got %d/%d", c.TxLimitSats, c.DayLimitSats)
	}
	if c.Status != StatusActive || c.Paired() || c.LastCounter != 0 {
		t.Fatalf("unexpected initial state: %+v", c)
	}
	keys := map[string]bool{c.K0: true, c.K2: true, c.K3: true, c.K4: true}
	if len(keys) != 4 {
		t.Fatal("expected four distinct keys")
	}
	for k := range keys {
		if len(k) != 32 {
			t.Fatalf("expected 16-byte hex key, got %q", k)
		}
	}
}

func TestCreateRejectsMissingName(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if _, err := svc.Create(context.Background(), CreateInput{UserID: uuid.NewString(), Name: "  "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPairIsSingleUse(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	owner := uuid.NewString()
	c, _ := svc.Create(ctx, CreateInput{UserID: owner, Name: "card"})

	paired, err := svc.Pair(ctx, c.ID, owner, "04A1B2C3D4E5F6")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if paired.UID != "04a1b2c3d4e5f6" {
		t.Fatalf("expected normalized uid, got %s", paired.UID)
	}

	if _, err := svc.Pair(ctx, c.ID, owner, "04ffffffffffff"); !errors.Is(err, ErrAlreadyPaired) {
		t.Fatalf("expected already paired, got %v", err)
	}
	got, _ := svc.Get(ctx, c.ID)
	if got.UID != "04a1b2c3d4e5f6" {
		t.Fatalf("uid changed after second pair: %s", got.UID)
	}
}

func TestPairRejectsBadUID(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	owner := uuid.NewString()
	c, _ := svc.Create(ctx, CreateInput{UserID: owner, Name: "card"})

	for _, uid := range []string{"", "04a1b2", "zz a1b2c3d4e5f6", "04a1b2c3d4e5f6aa"} {
		if _, err := svc.Pair(ctx, c.ID, owner, uid); !errors.Is(err, ErrInvalidUID) {
			t.Fatalf("uid %q: expected invalid uid, got %v", uid, err)
		}
	}
}

func TestPairRejectsUIDHeldByAnotherActiveCard(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	owner := uuid.NewString()
	first, _ := svc.Create(ctx, CreateInput{UserID: owner, Name: "first"})
	second, _ := svc.Create(ctx, CreateInput{UserID: owner, Name: "second"})

	if _, err := svc.Pair(ctx, first.ID, owner, "04a1b2c3d4e5f6"); err != nil {
		t.Fatalf("pair first: %v", err)
	}
	if _, err := svc.Pair(ctx, second.ID, owner, "04a1b2c3d4e5f6"); !errors.Is(err, ErrUIDInUse) {
		t.Fatalf("expected uid in use, got %v", err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	c, _ := svc.Create(ctx, CreateInput{UserID: uuid.NewString(), Name: "card"})
	stranger := uuid.NewString()

	if _, err := svc.GetOwned(ctx, c.ID, stranger); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner on get, got %v", err)
	}
	if err := svc.Delete(ctx, c.ID, stranger); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner on delete, got %v", err)
	}
	if _, err := svc.Pair(ctx, c.ID, stranger, "04a1b2c3d4e5f6"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner on pair, got %v", err)
	}
}

func TestUpdateRestrictsAndValidates(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	owner := uuid.NewString()
	c, _ := svc.Create(ctx, CreateInput{UserID: owner, Name: "card"})

	if _, err := svc.Update(ctx, c.ID, owner, UpdateInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}
	negative := int64(-1)
	if _, err := svc.Update(ctx, c.ID, owner, UpdateInput{TxLimitSats: &negative}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for negative limit, got %v", err)
	}

	name := "Renamed"
	limit := int64(10_000)
	disabled := StatusDisabled
	updated, err := svc.Update(ctx, c.ID, owner, UpdateInput{Name: &name, TxLimitSats: &limit, Status: &disabled})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Renamed" || updated.TxLimitSats != 10_000 || updated.Status != StatusDisabled {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if updated.DayLimitSats != 200_000 {
		t.Fatalf("day limit should be untouched, got %d", updated.DayLimitSats)
	}
}

func TestDeleteCancelsSessions(t *testing.T) {
	sessions := &recordingCanceller{}
	svc, _ := newTestService(t, sessions)
	ctx := context.Background()
	owner := uuid.NewString()
	c, _ := svc.Create(ctx, CreateInput{UserID: owner, Name: "card"})

	if err := svc.Delete(ctx, c.ID, owner); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(sessions.cancelled) != 1 || sessions.cancelled[0] != c.ID {
		t.Fatalf("expected sessions cancelled for %s, got %v", c.ID, sessions.cancelled)
	}
	if _, err := svc.Get(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestAdvanceCounterIsConditional(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()
	c, _ := svc.Create(ctx, CreateInput{UserID: uuid.NewString(), Name: "card"})

	const workers = 16
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.AdvanceCounter(ctx, c.ID, 7, time.Now())
			if err != nil {
				t.Errorf("advance: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one counter advance, got %d", wins)
	}
	if ok, _ := repo.AdvanceCounter(ctx, c.ID, 6, time.Now()); ok {
		t.Fatal("counter must not move backwards")
	}
	got, _ := repo.Get(ctx, c.ID)
	if got.LastCounter != 7 {
		t.Fatalf("expected last counter 7, got %d", got.LastCounter)
	}
}
