package lightning

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

var (
	// ErrInvalidInvoice rejects payment requests that are not valid BOLT11 strings.
	ErrInvalidInvoice = errors.New("invalid payment request")
	// ErrNoAmount rejects invoices that leave the amount to the payer.
	ErrNoAmount = errors.New("payment request has no amount")
)

const defaultDescription = "boltcard withdraw"

// networks is ordered so that longer HRPs win over their prefixes.
var networks = []*chaincfg.Params{
	&chaincfg.RegressionNetParams,
	&chaincfg.SigNetParams,
	&chaincfg.SimNetParams,
	&chaincfg.TestNet3Params,
	&chaincfg.MainNetParams,
}

// Invoice holds the BOLT11 fields this service acts on.
type Invoice struct {
	Network     string
	AmountMsat  int64
	PaymentHash string
	Payee       string
	Description string
	Timestamp   time.Time
	Expiry      time.Duration
}

// ExpiresAt is when the payee stops accepting the invoice.
func (i Invoice) ExpiresAt() time.Time {
	return i.Timestamp.Add(i.Expiry)
}

// DecodeInvoice parses a BOLT11 payment request and verifies its signature.
func DecodeInvoice(pr string) (Invoice, error) {
	pr = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(pr)), "lightning:")
	net := networkFor(pr)
	if net == nil {
		return Invoice{}, fmt.Errorf("%w: unknown network prefix", ErrInvalidInvoice)
	}
	decoded, err := zpay32.Decode(pr, net)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	if decoded.PaymentHash == nil {
		return Invoice{}, fmt.Errorf("%w: missing payment hash", ErrInvalidInvoice)
	}

	inv := Invoice{
		Network:     net.Bech32HRPSegwit,
		PaymentHash: hex.EncodeToString(decoded.PaymentHash[:]),
		Timestamp:   decoded.Timestamp.UTC(),
		Expiry:      decoded.Expiry(),
	}
	if decoded.MilliSat != nil {
		if uint64(*decoded.MilliSat) > math.MaxInt64 {
			return Invoice{}, fmt.Errorf("%w: amount overflows", ErrInvalidInvoice)
		}
		inv.AmountMsat = int64(*decoded.MilliSat)
	}
	if decoded.Description != nil {
		inv.Description = *decoded.Description
	}
	if decoded.Destination != nil {
		inv.Payee = hex.EncodeToString(decoded.Destination.SerializeCompressed())
	}
	return inv, nil
}

// EncodeInvoice builds a mainnet BOLT11 string signed by a throwaway node
// key. Simulators and tests use it to settle against this service.
func EncodeInvoice(amountMsat int64, paymentHash []byte, description string, ts time.Time) (string, error) {
	if len(paymentHash) != 32 {
		return "", fmt.Errorf("payment hash must be 32 bytes")
	}
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate node key: %w", err)
	}
	var hash, secret [32]byte
	copy(hash[:], paymentHash)
	if _, err := rand.Read(secret[:]); err != nil {
		return "", fmt.Errorf("generate payment secret: %w", err)
	}
	if description == "" {
		description = defaultDescription
	}

	opts := []func(*zpay32.Invoice){
		zpay32.Description(description),
		zpay32.Destination(key.PubKey()),
		zpay32.PaymentAddr(secret),
		zpay32.Features(lnwire.NewFeatureVector(nil, lnwire.Features)),
	}
	if amountMsat > 0 {
		opts = append(opts, zpay32.Amount(lnwire.MilliSatoshi(amountMsat)))
	}
	inv, err := zpay32.NewInvoice(&chaincfg.MainNetParams, hash, ts, opts...)
	if err != nil {
		return "", fmt.Errorf("build invoice: %w", err)
	}
	return inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			digest := sha256.Sum256(msg)
			return ecdsa.SignCompact(key, digest[:], true)
		},
	})
}

// networkFor picks the chain whose HRP follows "ln" and is directly followed
// by the amount or the bech32 separator.
func networkFor(pr string) *chaincfg.Params {
	for _, net := range networks {
		prefix := "ln" + net.Bech32HRPSegwit
		if len(pr) > len(prefix) && strings.HasPrefix(pr, prefix) {
			if next := pr[len(prefix)]; next >= '0' && next <= '9' {
				return net
			}
		}
	}
	return nil
}
