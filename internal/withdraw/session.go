package withdraw

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned by stores when no session exists for k1.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by Create when k1 is already taken.
	ErrSessionExists = errors.New("session already exists")
)

// Session binds a withdraw offer to its later callback.
type Session struct {
	K1        string    `json:"k1"`
	CardID    string    `json:"card_id"`
	UID       string    `json:"uid"`
	Counter   uint32    `json:"counter"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session window has closed at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store holds open sessions. Claim is the single-shot transition: it removes
// and returns the session atomically so at most one caller ever holds it.
type Store interface {
	Create(ctx context.Context, s Session) error
	Claim(ctx context.Context, k1 string) (Session, error)
	// Restore puts a claimed session back for its remaining lifetime.
	Restore(ctx context.Context, s Session) error
	DeleteByCard(ctx context.Context, cardID string) error
	// Sweep drops sessions expired at now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func shortK1(k1 string) string {
	if len(k1) > 8 {
		return k1[:8]
	}
	return k1
}
