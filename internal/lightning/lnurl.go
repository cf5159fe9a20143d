package lightning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const lnurlHRP = "lnurl"

// ErrInvalidLNURL rejects strings that are not bech32 "lnurl" encodings.
var ErrInvalidLNURL = errors.New("invalid lnurl")

// EncodeLNURL bech32-encodes a URL under the "lnurl" prefix. The result is
// uppercased so it packs into alphanumeric QR and NDEF records.
func EncodeLNURL(rawURL string) (string, error) {
	data, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert lnurl bits: %w", err)
	}
	encoded, err := bech32.Encode(lnurlHRP, data)
	if err != nil {
		return "", fmt.Errorf("encode lnurl: %w", err)
	}
	return strings.ToUpper(encoded), nil
}

// DecodeLNURL reverses EncodeLNURL. A leading "lightning:" scheme is accepted.
func DecodeLNURL(lnurl string) (string, error) {
	lnurl = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(lnurl)), "lightning:")
	hrp, data, err := bech32.DecodeNoLimit(lnurl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLNURL, err)
	}
	if hrp != lnurlHRP {
		return "", fmt.Errorf("%w: unexpected prefix %q", ErrInvalidLNURL, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLNURL, err)
	}
	return string(raw), nil
}
