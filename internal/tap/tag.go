package tap

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/aead/cmac"
)

// TagLen is the number of tag bytes carried by a tap.
const TagLen = 8

// TagFunc computes the authentication tag of message under key. The result
// is truncated to TagLen by the caller.
type TagFunc func(key, message []byte) ([]byte, error)

// TagFuncFor resolves a configured algorithm name.
func TagFuncFor(name string) (TagFunc, error) {
	switch name {
	case "", "legacy":
		return LegacyTag, nil
	case "cmac":
		return CMACTag, nil
	default:
		return nil, fmt.Errorf("unknown tag algorithm %q", name)
	}
}

// LegacyTag is the tag construction deployed cards were provisioned against:
// the final AES-128-CBC block (zero IV) of the PKCS#7 padded message. It is
// not a standard MAC; CMACTag is the conforming alternative.
func LegacyTag(key, message []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(message, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, padded)
	return out[len(out)-aes.BlockSize:], nil
}

// CMACTag computes AES-CMAC (NIST SP 800-38B) with a full-block tag.
func CMACTag(key, message []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cmac.Sum(message, block, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	pad := size - len(b)%size
	out := make([]byte, len(b)+pad)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}
