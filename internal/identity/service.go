package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/boltcard/internal/ledger"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

// Service manages owner lifecycle and resolves owners for payment flows.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
	logger *slog.Logger
}

// NewService creates a new identity service.
func NewService(repo Repository, l ledger.Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: l, logger: logger}
}

// Register creates a user with a hashed PIN and opens their ledger account.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	username := strings.ToLower(strings.TrimSpace(creds.Username))
	if !usernamePattern.MatchString(username) {
		return User{}, fmt.Errorf("%w: username must be 3-32 characters of a-z, 0-9, _ . -", ErrValidation)
	}
	if len(creds.PIN) < 4 {
		return User{}, fmt.Errorf("%w: PIN must be at least 4 digits", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:        uuid.New().String(),
		Username:  username,
		PINHash:   hash,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	if err := s.ledger.EnsureAccount(ctx, AccountCode(user.ID)); err != nil {
		return User{}, fmt.Errorf("open ledger account: %w", err)
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Authenticate verifies username and PIN.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByUsername(ctx, strings.ToLower(strings.TrimSpace(creds.Username)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	return user, nil
}

// FindByID fetches a user.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// ResolveOwner returns the owner with their current spendable balance.
func (s *Service) ResolveOwner(ctx context.Context, userID string) (Owner, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return Owner{}, err
	}
	balance, err := s.ledger.Balance(ctx, AccountCode(user.ID))
	if err != nil {
		if !errors.Is(err, ledger.ErrAccountNotFound) {
			return Owner{}, fmt.Errorf("read balance: %w", err)
		}
		balance = 0
	}
	return Owner{ID: user.ID, Username: user.Username, Balance: balance}, nil
}

// Deposit credits the owner's account with sats received from outside the ledger.
func (s *Service) Deposit(ctx context.Context, userID, reference string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if reference == "" {
		reference = uuid.NewString()
	}
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		return 0, err
	}
	res, err := s.ledger.Deposit(ctx, AccountCode(userID), reference, amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return 0, err
	}
	return res.ToBalance, nil
}
