package card

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const keySize = 16

// Limits holds the per-card spending defaults applied when create omits them.
type Limits struct {
	TxLimitSats  int64
	DayLimitSats int64
}

// SessionCanceller drops any open withdraw sessions for a card.
type SessionCanceller interface {
	DeleteByCard(ctx context.Context, cardID string) error
}

// Service is the card registry: creation, lookup, owner edits, pairing and deletion.
type Service struct {
	repo     Repository
	defaults Limits
	sessions SessionCanceller
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a card registry. sessions may be nil when no withdraw
// sessions can exist (tests).
func NewService(repo Repository, defaults Limits, sessions SessionCanceller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, defaults: defaults, sessions: sessions, logger: logger, now: time.Now}
}

// Create generates a new active, unpaired card with four random keys.
func (s *Service) Create(ctx context.Context, input CreateInput) (Card, error) {
	name := strings.TrimSpace(input.Name)
	if input.UserID == "" {
		return Card{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if name == "" {
		return Card{}, fmt.Errorf("%w: card name is required", ErrValidation)
	}
	txLimit, dayLimit := input.TxLimitSats, input.DayLimitSats
	if txLimit == 0 {
		txLimit = s.defaults.TxLimitSats
	}
	if dayLimit == 0 {
		dayLimit = s.defaults.DayLimitSats
	}
	if txLimit <= 0 || dayLimit <= 0 {
		return Card{}, fmt.Errorf("%w: limits must be positive", ErrValidation)
	}

	keys, err := generateKeys()
	if err != nil {
		return Card{}, err
	}

	now := s.now().UTC()
	c := Card{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		Name:         name,
		K0:           keys[0],
		K2:           keys[1],
		K3:           keys[2],
		K4:           keys[3],
		TxLimitSats:  txLimit,
		DayLimitSats: dayLimit,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Card{}, err
	}
	s.logger.Info("card created", slog.String("card_id", c.ID), slog.String("user_id", c.UserID))
	return c, nil
}

// Get returns a card regardless of owner.
func (s *Service) Get(ctx context.Context, id string) (Card, error) {
	return s.repo.Get(ctx, id)
}

// GetOwned returns the card if userID owns it.
func (s *Service) GetOwned(ctx context.Context, id, userID string) (Card, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Card{}, err
	}
	if c.UserID != userID {
		return Card{}, ErrNotOwner
	}
	return c, nil
}

// ListByUser returns every card owned by userID.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Card, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Update applies owner edits restricted to name, limits and status.
func (s *Service) Update(ctx context.Context, id, userID string, input UpdateInput) (Card, error) {
	if input.Empty() {
		return Card{}, fmt.Errorf("%w: no updatable fields provided", ErrValidation)
	}
	if err := input.Validate(); err != nil {
		return Card{}, err
	}
	if _, err := s.GetOwned(ctx, id, userID); err != nil {
		return Card{}, err
	}
	c, err := s.repo.Update(ctx, id, input, s.now())
	if err != nil {
		return Card{}, err
	}
	s.logger.Info("card updated", slog.String("card_id", c.ID), slog.String("status", string(c.Status)))
	return c, nil
}

// Delete removes the card after cancelling its open withdraw sessions.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.GetOwned(ctx, id, userID); err != nil {
		return err
	}
	if s.sessions != nil {
		if err := s.sessions.DeleteByCard(ctx, id); err != nil {
			return fmt.Errorf("cancel withdraw sessions: %w", err)
		}
	}
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		return err
	}
	s.logger.Info("card deleted", slog.String("card_id", id))
	return nil
}

// Pair binds a physical UID to an unpaired card. Pairing happens once.
func (s *Service) Pair(ctx context.Context, id, userID, uid string) (Card, error) {
	normalized, err := NormalizeUID(uid)
	if err != nil {
		return Card{}, err
	}
	c, err := s.GetOwned(ctx, id, userID)
	if err != nil {
		return Card{}, err
	}
	if c.Paired() {
		return Card{}, ErrAlreadyPaired
	}
	paired, err := s.repo.SetUID(ctx, id, normalized, s.now())
	if err != nil {
		return Card{}, err
	}
	s.logger.Info("card paired", slog.String("card_id", id), slog.String("uid", normalized))
	return paired, nil
}

func generateKeys() ([4]string, error) {
	var keys [4]string
	for i := range keys {
		buf := make([]byte, keySize)
		if _, err := rand.Read(buf); err != nil {
			return keys, fmt.Errorf("generate card key: %w", err)
		}
		keys[i] = hex.EncodeToString(buf)
	}
	return keys, nil
}
