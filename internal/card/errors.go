package card

import "errors"

var (
	// ErrNotFound indicates no card exists for the identifier.
	ErrNotFound = errors.New("card not found")

	// ErrNotOwner indicates the caller does not own the card.
	ErrNotOwner = errors.New("not authorized to access this card")

	// ErrValidation wraps malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyPaired is returned when binding a UID to a card that already has one,
	// or when provisioning secrets are requested for a paired card.
	ErrAlreadyPaired = errors.New("card is already paired")

	// ErrInvalidUID rejects UIDs that are not 7-byte hex strings.
	ErrInvalidUID = errors.New("invalid uid format, expected 7-byte hex string")

	// ErrUIDInUse indicates another active card is bound to the same UID.
	ErrUIDInUse = errors.New("uid already bound to an active card")
)
