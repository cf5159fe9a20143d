package identity

import (
	"errors"
	"time"
)

var (
	// ErrUserExists rejects registration of a taken username.
	ErrUserExists = errors.New("user exists")
	// ErrUserNotFound indicates no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials covers unknown usernames and wrong PINs alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation marks malformed registration input.
	ErrValidation = errors.New("validation error")
)

// User represents a registered card owner.
type User struct {
	ID           string
	Username     string
	PINHash      []byte
	TokenVersion int
	CreatedAt    time.Time
}

// Credentials request structure.
type Credentials struct {
	Username string
	PIN      string
}

// Owner is the account view handed to payment flows.
type Owner struct {
	ID       string
	Username string
	Balance  int64
}

// AccountCode returns the ledger account holding the user's funds.
func AccountCode(userID string) string {
	return "user:" + userID
}
