package spending

import (
	"context"
	"sync"
)

type memoryRecord struct {
	total int64
	day   string
}

type memoryLedger struct {
	mu       sync.Mutex
	records  map[string]*memoryRecord
	calendar Calendar
}

// NewMemoryLedger returns a process-local ledger for development and tests.
func NewMemoryLedger(calendar Calendar) Ledger {
	return &memoryLedger{records: make(map[string]*memoryRecord), calendar: calendar}
}

func (l *memoryLedger) Current(_ context.Context, cardID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[recordKey(cardID, l.calendar.Today())]; ok {
		return rec.total, nil
	}
	return 0, nil
}

func (l *memoryLedger) Check(ctx context.Context, cardID string, amount, limit int64) (bool, error) {
	current, _ := l.Current(ctx, cardID)
	return current+amount <= limit, nil
}

func (l *memoryLedger) Commit(_ context.Context, cardID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(cardID, l.calendar.Today()).total += amount
	return nil
}

func (l *memoryLedger) Reserve(_ context.Context, cardID string, amount, limit int64) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.calendar.Today()
	rec := l.recordLocked(cardID, day)
	r := Reservation{CardID: cardID, Day: day, Amount: amount, Total: rec.total}
	if rec.total+amount > limit {
		return r, ErrLimitExceeded
	}
	rec.total += amount
	r.Total = rec.total
	return r, nil
}

func (l *memoryLedger) Release(_ context.Context, r Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := recordKey(r.CardID, r.Day)
	rec, ok := l.records[key]
	if !ok {
		return nil
	}
	rec.total -= r.Amount
	if rec.total <= 0 {
		delete(l.records, key)
	}
	return nil
}

func (l *memoryLedger) Sweep(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.calendar.now()
	removed := 0
	for key, rec := range l.records {
		if now.After(l.calendar.ExpiresAt(rec.day)) {
			delete(l.records, key)
			removed++
		}
	}
	return removed, nil
}

func (l *memoryLedger) recordLocked(cardID, day string) *memoryRecord {
	key := recordKey(cardID, day)
	rec, ok := l.records[key]
	if !ok {
		rec = &memoryRecord{day: day}
		l.records[key] = rec
	}
	return rec
}
