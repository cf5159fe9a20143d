package tap

import (
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return b
}

// RFC 4493 section 4 examples.
func TestCMACTagVectors(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")
	cases := []struct {
		msg  string
		want string
	}{
		{"", "bb1d6929e95937287fa37d129b756746"},
		{"6bc1bee22e409f96e93d7e117393172a", "070a16b46b4d4144f79bdd9dd04a287c"},
		{"6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e5130c81c46a35ce411", "dfa66747de9ae63030ca32611497c827"},
	}
	for _, tc := range cases {
		got, err := CMACTag(key, mustHex(t, tc.msg))
		if err != nil {
			t.Fatalf("cmac: %v", err)
		}
		if hex.EncodeToString(got) != tc.want {
			t.Fatalf("msg %q: expected %s, got %x", tc.msg, tc.want, got)
		}
	}
}

func TestLegacyTagIsSingleBlockForShortMessages(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	msg := mustHex(t, "04a1b2c3d4e5f60005")

	got, err := LegacyTag(key, msg)
	if err != nil {
		t.Fatalf("legacy: %v", err)
	}

	block, _ := aes.NewCipher(key)
	padded := append(append([]byte{}, msg...), bytes.Repeat([]byte{7}, 7)...)
	want := make([]byte, aes.BlockSize)
	block.Encrypt(want, padded)

	if !bytes.Equal(got, want) {
		t.Fatalf("expected %x, got %x", want, got)
	}
}

func TestLegacyTagDependsOnKey(t *testing.T) {
	msg := mustHex(t, "04a1b2c3d4e5f60005")
	a, _ := LegacyTag(mustHex(t, "000102030405060708090a0b0c0d0e0f"), msg)
	b, _ := LegacyTag(mustHex(t, "0f0e0d0c0b0a09080706050403020100"), msg)
	if bytes.Equal(a, b) {
		t.Fatal("different keys produced the same tag")
	}
}

func TestTagFuncFor(t *testing.T) {
	if _, err := TagFuncFor("legacy"); err != nil {
		t.Fatalf("legacy: %v", err)
	}
	if _, err := TagFuncFor("cmac"); err != nil {
		t.Fatalf("cmac: %v", err)
	}
	if _, err := TagFuncFor("hmac"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}
