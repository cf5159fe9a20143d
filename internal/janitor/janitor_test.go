package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/congo-pay/boltcard/internal/logging"
	"github.com/congo-pay/boltcard/internal/spending"
	"github.com/congo-pay/boltcard/internal/withdraw"
)

type countingSweeper struct {
	calls int32
	err   error
}

func (c *countingSweeper) Sweep(context.Context, time.Time) (int, error) {
	atomic.AddInt32(&c.calls, 1)
	return 0, c.err
}

func TestRunOnceSweepsMemoryStores(t *testing.T) {
	ctx := context.Background()
	sessions := withdraw.NewMemoryStore()
	now := time.Now().UTC()
	_ = sessions.Create(ctx, withdraw.Session{K1: "old", CardID: "c", CreatedAt: now.Add(-10 * time.Minute), ExpiresAt: now.Add(-5 * time.Minute)})
	_ = sessions.Create(ctx, withdraw.Session{K1: "live", CardID: "c", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)})

	spend := spending.NewMemoryLedger(spending.NewCalendar(time.UTC, time.Hour))

	j := New(sessions, spend, logging.Discard())
	swept, _ := j.RunOnce(ctx)
	if swept != 1 {
		t.Fatalf("expected one expired session swept, got %d", swept)
	}
	if _, err := sessions.Claim(ctx, "live"); err != nil {
		t.Fatalf("live session must survive: %v", err)
	}
}

func TestRunOnceToleratesErrors(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("boom")}
	j := New(sweeper, nil, logging.Discard())
	if s, p := j.RunOnce(context.Background()); s != 0 || p != 0 {
		t.Fatalf("expected zero counts, got %d/%d", s, p)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one call, got %d", sweeper.calls)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := New(nil, nil, logging.Discard())
	if err := j.Start("not a schedule"); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	sweeper := &countingSweeper{}
	j := New(sweeper, nil, logging.Discard())
	if err := j.Start("@every 1s"); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&sweeper.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)
	if atomic.LoadInt32(&sweeper.calls) == 0 {
		t.Fatal("expected the scheduled sweep to run")
	}
}
