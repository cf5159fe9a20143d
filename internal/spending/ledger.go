package spending

import (
	"context"
	"errors"
	"time"
)

// ErrLimitExceeded indicates a reservation would push the day's total past the limit.
var ErrLimitExceeded = errors.New("daily spending limit exceeded")

const keyPrefix = "boltcard:spend:"

// Reservation is an amount added to a card's daily total before the payment
// it covers has settled. Release undoes it on the same calendar day.
type Reservation struct {
	CardID string
	Day    string
	Amount int64
	Total  int64
}

// Ledger tracks cumulative per-card, per-day spend in satoshis.
type Ledger interface {
	// Check reports whether amount fits under limit for today.
	Check(ctx context.Context, cardID string, amount, limit int64) (bool, error)
	// Commit adds amount to today's total unconditionally.
	Commit(ctx context.Context, cardID string, amount int64) error
	// Current returns today's committed total.
	Current(ctx context.Context, cardID string) (int64, error)
	// Reserve adds amount only when the new total stays within limit.
	Reserve(ctx context.Context, cardID string, amount, limit int64) (Reservation, error)
	// Release removes a reservation whose payment did not go through.
	Release(ctx context.Context, r Reservation) error
	// Sweep drops records past their retention and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// Calendar maps instants to calendar days in a fixed reference timezone.
type Calendar struct {
	loc       *time.Location
	retention time.Duration
	now       func() time.Time
}

// NewCalendar builds a calendar. Records stay retained for retention after
// their day ends.
func NewCalendar(loc *time.Location, retention time.Duration) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return Calendar{loc: loc, retention: retention, now: time.Now}
}

// Today returns the current day as YYYY-MM-DD.
func (c Calendar) Today() string {
	return c.now().In(c.loc).Format(time.DateOnly)
}

// ExpiresAt is when records for day become eligible for collection.
func (c Calendar) ExpiresAt(day string) time.Time {
	start, err := time.ParseInLocation(time.DateOnly, day, c.loc)
	if err != nil {
		return c.now().Add(c.retention)
	}
	return start.AddDate(0, 0, 1).Add(c.retention)
}

func recordKey(cardID, day string) string {
	return keyPrefix + cardID + ":" + day
}
