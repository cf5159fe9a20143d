// Package pairing issues the provisioning material used to program a
// physical card with its keys before it is paired.
package pairing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/congo-pay/boltcard/internal/card"
	"github.com/congo-pay/boltcard/internal/identity"
	"github.com/congo-pay/boltcard/internal/lightning"
)

var (
	// ErrInvalidToken rejects tokens that are not base64 encoded JSON bundles.
	ErrInvalidToken = errors.New("invalid token format")
	// ErrMissingCardID rejects tokens whose bundle carries no card id.
	ErrMissingCardID = errors.New("card id not found in token")
)

const (
	pairPathBase     = "/card/pair/"
	withdrawPath     = "/withdraw"
	pairCallbackPath = "/api/v1/boltcards/%s/pair"
	protocolName     = "new_bolt_card_response"
	protocolVersion  = 1
)

// Bundle is the secret set a programming app writes to the card.
type Bundle struct {
	K0     string `json:"k0"`
	K2     string `json:"k2"`
	K3     string `json:"k3"`
	K4     string `json:"k4"`
	CardID string `json:"cardId"`
}

// Offer is a bundle together with its transport encodings.
type Offer struct {
	Bundle Bundle `json:"bundle"`
	Token  string `json:"token"`
	URL    string `json:"url"`
}

// Programming is the JSON document NFC programming apps consume. It carries
// the bundle secrets plus the operational metadata of the card.
type Programming struct {
	ProtocolName    string    `json:"protocol_name"`
	ProtocolVersion int       `json:"protocol_version"`
	K0              string    `json:"k0"`
	K1              string    `json:"k1"`
	K2              string    `json:"k2"`
	K3              string    `json:"k3"`
	K4              string    `json:"k4"`
	Name            string    `json:"name"`
	TxLimitSats     int64     `json:"tx_limit_sats"`
	DayLimitSats    int64     `json:"day_limit_sats"`
	LNURLWBase      string    `json:"lnurlw_base"`
	LNURLWBaseURL   string    `json:"lnurlw_base_url"`
	LNURLW          string    `json:"lnurlw"`
	CardID          string    `json:"card_id"`
	UserID          string    `json:"user_id"`
	UserName        string    `json:"user_name"`
	CallbackURL     string    `json:"callback_url"`
	CreatedTime     time.Time `json:"created_time"`
}

// CardSource resolves cards by id.
type CardSource interface {
	Get(ctx context.Context, id string) (card.Card, error)
}

// OwnerResolver looks up the owner of a card.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, userID string) (identity.Owner, error)
}

// Issuer builds provisioning bundles, links and programming payloads. Every
// operation refuses cards that are already paired.
type Issuer struct {
	cards      CardSource
	owners     OwnerResolver
	baseURL    string
	payloadKey string
	logger     *slog.Logger
}

// NewIssuer wires the issuer. baseURL is the public origin of the service
// and payloadKey the hex key cards use to encrypt their scan payload (empty
// when payloads are sent in the clear).
func NewIssuer(cards CardSource, owners OwnerResolver, baseURL, payloadKey string, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		cards:      cards,
		owners:     owners,
		baseURL:    strings.TrimRight(baseURL, "/"),
		payloadKey: payloadKey,
		logger:     logger,
	}
}

// Offer returns the bundle of an unpaired card with its token and link.
func (i *Issuer) Offer(c card.Card) (Offer, error) {
	if c.Paired() {
		return Offer{}, card.ErrAlreadyPaired
	}
	b := Bundle{K0: c.K0, K2: c.K2, K3: c.K3, K4: c.K4, CardID: c.ID}
	token, err := EncodeToken(b)
	if err != nil {
		return Offer{}, err
	}
	return Offer{Bundle: b, Token: token, URL: i.baseURL + pairPathBase + token}, nil
}

// ProgrammingURL returns the remote provisioning link of an unpaired card.
func (i *Issuer) ProgrammingURL(c card.Card) (string, error) {
	offer, err := i.Offer(c)
	if err != nil {
		return "", err
	}
	return offer.URL, nil
}

// Programming builds the programming document of an unpaired card.
func (i *Issuer) Programming(ctx context.Context, c card.Card) (Programming, error) {
	if c.Paired() {
		return Programming{}, card.ErrAlreadyPaired
	}
	owner, err := i.owners.ResolveOwner(ctx, c.UserID)
	if err != nil {
		return Programming{}, fmt.Errorf("resolve owner: %w", err)
	}
	base := i.baseURL + withdrawPath
	lnurlw, err := lightning.EncodeLNURL(base)
	if err != nil {
		return Programming{}, err
	}
	return Programming{
		ProtocolName:    protocolName,
		ProtocolVersion: protocolVersion,
		K0:              c.K0,
		K1:              i.payloadKey,
		K2:              c.K2,
		K3:              c.K3,
		K4:              c.K4,
		Name:            c.Name,
		TxLimitSats:     c.TxLimitSats,
		DayLimitSats:    c.DayLimitSats,
		LNURLWBase:      lnurlwScheme(base),
		LNURLWBaseURL:   base,
		LNURLW:          lnurlw,
		CardID:          c.ID,
		UserID:          c.UserID,
		UserName:        owner.Username,
		CallbackURL:     i.baseURL + fmt.Sprintf(pairCallbackPath, c.ID),
		CreatedTime:     c.CreatedAt,
	}, nil
}

// Resolve turns a public provisioning token into the programming document.
func (i *Issuer) Resolve(ctx context.Context, token string) (Programming, error) {
	b, err := DecodeToken(token)
	if err != nil {
		return Programming{}, err
	}
	c, err := i.cards.Get(ctx, b.CardID)
	if err != nil {
		return Programming{}, err
	}
	p, err := i.Programming(ctx, c)
	if err != nil {
		return Programming{}, err
	}
	i.logger.Info("card programming data requested", slog.String("card_id", c.ID))
	return p, nil
}

// EncodeToken renders a bundle as unpadded URL-safe base64 JSON.
func EncodeToken(b Bundle) (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode bundle: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a token produced by EncodeToken. Standard and padded
// base64 forms are accepted too.
func DecodeToken(token string) (Bundle, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Bundle{}, ErrInvalidToken
	}
	var raw []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding, base64.RawStdEncoding} {
		if raw, err = enc.DecodeString(token); err == nil {
			break
		}
	}
	if err != nil {
		return Bundle{}, ErrInvalidToken
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, ErrInvalidToken
	}
	if strings.TrimSpace(b.CardID) == "" {
		return Bundle{}, ErrMissingCardID
	}
	return b, nil
}

// lnurlwScheme swaps the http(s) scheme for lnurlw, the form NFC wallets
// open directly.
func lnurlwScheme(rawURL string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(rawURL, prefix) {
			return "lnurlw://" + strings.TrimPrefix(rawURL, prefix)
		}
	}
	return rawURL
}
