package tap

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	uidLen     = 7
	counterLen = 2
	scanLen    = uidLen + counterLen
)

// Scan is the data carried by one tap: the physical UID and the card counter.
type Scan struct {
	UID     [uidLen]byte
	Counter uint16
}

// UIDHex returns the lowercase hex UID as stored on paired cards.
func (s Scan) UIDHex() string { return hex.EncodeToString(s.UID[:]) }

// Message is the byte string the authentication tag covers: UID followed by
// the big-endian counter.
func (s Scan) Message() []byte {
	msg := make([]byte, scanLen)
	copy(msg, s.UID[:])
	binary.BigEndian.PutUint16(msg[uidLen:], s.Counter)
	return msg
}

// PayloadDecoder turns the raw scan payload into a Scan.
type PayloadDecoder interface {
	Decode(payload []byte) (Scan, error)
}

// PlainDecoder reads UID and counter directly from the payload.
type PlainDecoder struct{}

// Decode extracts the 7-byte UID and 2-byte big-endian counter.
func (PlainDecoder) Decode(payload []byte) (Scan, error) {
	if len(payload) < scanLen {
		return Scan{}, fmt.Errorf("%w: need %d bytes, got %d", ErrMalformedPayload, scanLen, len(payload))
	}
	var s Scan
	copy(s.UID[:], payload[:uidLen])
	s.Counter = binary.BigEndian.Uint16(payload[uidLen:scanLen])
	return s, nil
}

// AESDecoder decrypts the payload with AES-128-CBC and a zero IV before
// applying the plain layout.
type AESDecoder struct {
	block cipher.Block
}

// NewAESDecoder builds a decoder from a hex-encoded 16-byte key.
func NewAESDecoder(keyHex string) (*AESDecoder, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode payload key: %w", err)
	}
	if len(key) != aes.BlockSize {
		return nil, fmt.Errorf("payload key must be %d bytes, got %d", aes.BlockSize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AESDecoder{block: block}, nil
}

// Decode decrypts and extracts the scan.
func (d *AESDecoder) Decode(payload []byte) (Scan, error) {
	if len(payload) == 0 || len(payload)%aes.BlockSize != 0 {
		return Scan{}, fmt.Errorf("%w: encrypted payload must be a multiple of %d bytes", ErrMalformedPayload, aes.BlockSize)
	}
	plain := make([]byte, len(payload))
	cipher.NewCBCDecrypter(d.block, make([]byte, aes.BlockSize)).CryptBlocks(plain, payload)
	return PlainDecoder{}.Decode(plain)
}
