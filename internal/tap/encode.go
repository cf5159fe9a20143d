package tap

import (
	"encoding/hex"
	"fmt"
)

// EncodeTap builds the plaintext payload and tag a card with the given UID and
// MAC key emits for counter. It backs the card simulator and tests.
func EncodeTap(uidHex string, counter uint16, macKeyHex string, tag TagFunc) (payloadHex, tagHex string, err error) {
	uid, err := hex.DecodeString(uidHex)
	if err != nil || len(uid) != uidLen {
		return "", "", fmt.Errorf("uid must be %d hex bytes", uidLen)
	}
	key, err := hex.DecodeString(macKeyHex)
	if err != nil {
		return "", "", fmt.Errorf("decode mac key: %w", err)
	}
	if tag == nil {
		tag = LegacyTag
	}
	var s Scan
	copy(s.UID[:], uid)
	s.Counter = counter
	msg := s.Message()
	mac, err := tag(key, msg)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(msg), hex.EncodeToString(mac[:TagLen]), nil
}
