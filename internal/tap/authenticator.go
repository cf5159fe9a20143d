package tap

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/boltcard/internal/card"
)

var (
	// ErrMalformedPayload rejects scan payloads or tags that cannot be parsed.
	ErrMalformedPayload = errors.New("malformed scan payload")

	// ErrUnknownCard indicates no active card is paired with the scanned UID.
	ErrUnknownCard = errors.New("unknown card")

	// ErrReplayDetected indicates the counter did not advance past the last accepted value.
	ErrReplayDetected = errors.New("counter replay detected")

	// ErrTagMismatch indicates the authentication tag does not verify.
	ErrTagMismatch = errors.New("authentication tag mismatch")
)

// CardStore is the subset of the card registry the authenticator needs.
type CardStore interface {
	FindActiveByUID(ctx context.Context, uid string) (card.Card, error)
	AdvanceCounter(ctx context.Context, id string, counter uint32, at time.Time) (bool, error)
}

// Tap is a verified card presentation.
type Tap struct {
	Card    card.Card
	UID     string
	Counter uint32
}

// Authenticator verifies scan payloads and advances card counters. It never
// creates withdraw sessions.
type Authenticator struct {
	cards   CardStore
	decoder PayloadDecoder
	tag     TagFunc
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuthenticator wires the authenticator. A nil decoder reads plaintext
// payloads and a nil tag function uses LegacyTag.
func NewAuthenticator(cards CardStore, decoder PayloadDecoder, tag TagFunc, logger *slog.Logger) *Authenticator {
	if decoder == nil {
		decoder = PlainDecoder{}
	}
	if tag == nil {
		tag = LegacyTag
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{cards: cards, decoder: decoder, tag: tag, logger: logger, now: time.Now}
}

// AuthenticateHex decodes the hex query parameters carried by a tap URL.
func (a *Authenticator) AuthenticateHex(ctx context.Context, payloadHex, tagHex string) (Tap, error) {
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return Tap{}, fmt.Errorf("%w: payload is not hex", ErrMalformedPayload)
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return Tap{}, fmt.Errorf("%w: tag is not hex", ErrMalformedPayload)
	}
	return a.Authenticate(ctx, payload, tag)
}

// Authenticate checks the scan against the paired card: counter first, then
// tag, then a conditional counter advance.
func (a *Authenticator) Authenticate(ctx context.Context, payload, tag []byte) (Tap, error) {
	scan, err := a.decoder.Decode(payload)
	if err != nil {
		return Tap{}, err
	}
	uid := scan.UIDHex()
	counter := uint32(scan.Counter)

	c, err := a.cards.FindActiveByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, card.ErrNotFound) {
			a.reject(uid, counter, "", ErrUnknownCard)
			return Tap{}, ErrUnknownCard
		}
		return Tap{}, fmt.Errorf("lookup card: %w", err)
	}

	if counter <= c.LastCounter {
		a.reject(uid, counter, c.ID, ErrReplayDetected)
		return Tap{}, ErrReplayDetected
	}

	if err := a.verifyTag(c, scan, tag); err != nil {
		if errors.Is(err, ErrTagMismatch) {
			a.reject(uid, counter, c.ID, ErrTagMismatch)
		}
		return Tap{}, err
	}

	advanced, err := a.cards.AdvanceCounter(ctx, c.ID, counter, a.now())
	if err != nil {
		return Tap{}, fmt.Errorf("advance counter: %w", err)
	}
	if !advanced {
		a.reject(uid, counter, c.ID, ErrReplayDetected)
		return Tap{}, ErrReplayDetected
	}
	c.LastCounter = counter

	a.logger.Info("tap authenticated",
		slog.String("card_id", c.ID),
		slog.String("uid", uid),
		slog.Int("counter", int(counter)),
	)
	return Tap{Card: c, UID: uid, Counter: counter}, nil
}

func (a *Authenticator) verifyTag(c card.Card, scan Scan, provided []byte) error {
	key, err := hex.DecodeString(c.K2)
	if err != nil {
		return fmt.Errorf("decode mac key for card %s: %w", c.ID, err)
	}
	expected, err := a.tag(key, scan.Message())
	if err != nil {
		return fmt.Errorf("compute tag: %w", err)
	}
	if len(expected) < TagLen || len(provided) != TagLen {
		return ErrTagMismatch
	}
	if subtle.ConstantTimeCompare(expected[:TagLen], provided) != 1 {
		return ErrTagMismatch
	}
	return nil
}

func (a *Authenticator) reject(uid string, counter uint32, cardID string, reason error) {
	attrs := []any{
		slog.String("uid", uid),
		slog.Int("counter", int(counter)),
		slog.String("reason", reason.Error()),
	}
	if cardID != "" {
		attrs = append(attrs, slog.String("card_id", cardID))
	}
	a.logger.Warn("tap rejected", attrs...)
}
