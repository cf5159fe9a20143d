package card

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the lifecycle state of a card.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

var uidPattern = regexp.MustCompile(`^[0-9a-fA-F]{14}$`)

// Card is a provisioned tap-to-pay card. Keys are hex-encoded 16-byte AES keys:
// K0 authenticates/decrypts, K2 is the MAC key, K3 and K4 are reserved.
type Card struct {
	ID           string
	UserID       string
	Name         string
	K0           string
	K2           string
	K3           string
	K4           string
	UID          string
	LastCounter  uint32
	TxLimitSats  int64
	DayLimitSats int64
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Paired reports whether a physical UID has been bound to the card.
func (c Card) Paired() bool { return c.UID != "" }

// Active reports whether the card may authenticate and pay.
func (c Card) Active() bool { return c.Status == StatusActive }

// CreateInput captures data required to create a card. Zero limits fall back
// to the registry defaults.
type CreateInput struct {
	UserID       string
	Name         string
	TxLimitSats  int64
	DayLimitSats int64
}

// UpdateInput lists the owner-editable fields. Nil fields are left untouched.
type UpdateInput struct {
	Name         *string
	TxLimitSats  *int64
	DayLimitSats *int64
	Status       *Status
}

// Empty reports whether no field is set.
func (in UpdateInput) Empty() bool {
	return in.Name == nil && in.TxLimitSats == nil && in.DayLimitSats == nil && in.Status == nil
}

// Validate checks the provided fields.
func (in UpdateInput) Validate() error {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if in.TxLimitSats != nil && *in.TxLimitSats <= 0 {
		return fmt.Errorf("%w: txLimitSats must be positive", ErrValidation)
	}
	if in.DayLimitSats != nil && *in.DayLimitSats <= 0 {
		return fmt.Errorf("%w: dayLimitSats must be positive", ErrValidation)
	}
	if in.Status != nil {
		if _, err := ParseStatus(string(*in.Status)); err != nil {
			return err
		}
	}
	return nil
}

func (in UpdateInput) apply(c Card) Card {
	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.TxLimitSats != nil {
		c.TxLimitSats = *in.TxLimitSats
	}
	if in.DayLimitSats != nil {
		c.DayLimitSats = *in.DayLimitSats
	}
	if in.Status != nil {
		c.Status = *in.Status
	}
	return c
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(v string) (Status, error) {
	switch Status(strings.ToLower(v)) {
	case StatusActive:
		return StatusActive, nil
	case StatusDisabled:
		return StatusDisabled, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, v)
	}
}

// NormalizeUID validates a 7-byte hex UID and returns its lowercase form.
func NormalizeUID(uid string) (string, error) {
	if !uidPattern.MatchString(uid) {
		return "", ErrInvalidUID
	}
	return strings.ToLower(uid), nil
}
