package tap

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/boltcard/internal/card"
	"github.com/congo-pay/boltcard/internal/logging"
)

const testUID = "04a1b2c3d4e5f6"

func setupCard(t *testing.T, lastCounter uint32) (*Authenticator, card.Repository, card.Card) {
	t.Helper()
	ctx := context.Background()
	repo := card.NewMemoryRepository()
	svc := card.NewService(repo, card.Limits{TxLimitSats: 50_000, DayLimitSats: 200_000}, nil, logging.Discard())
	owner := uuid.NewString()
	c, err := svc.Create(ctx, card.CreateInput{UserID: owner, Name: "test"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if c, err = svc.Pair(ctx, c.ID, owner, testUID); err != nil {
		t.Fatalf("pair card: %v", err)
	}
	if lastCounter > 0 {
		if _, err := repo.AdvanceCounter(ctx, c.ID, lastCounter, time.Now()); err != nil {
			t.Fatalf("seed counter: %v", err)
		}
	}
	c, _ = repo.Get(ctx, c.ID)
	return NewAuthenticator(repo, nil, nil, logging.Discard()), repo, c
}

func encode(t *testing.T, c card.Card, counter uint16) (string, string) {
	t.Helper()
	p, tag, err := EncodeTap(testUID, counter, c.K2, LegacyTag)
	if err != nil {
		t.Fatalf("encode tap: %v", err)
	}
	return p, tag
}

func TestAuthenticateAdvancesCounter(t *testing.T) {
	auth, repo, c := setupCard(t, 4)
	ctx := context.Background()

	p, tag := encode(t, c, 5)
	got, err := auth.AuthenticateHex(ctx, p, tag)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.Card.ID != c.ID || got.UID != testUID || got.Counter != 5 {
		t.Fatalf("unexpected tap: %+v", got)
	}
	stored, _ := repo.Get(ctx, c.ID)
	if stored.LastCounter != 5 {
		t.Fatalf("expected last counter 5, got %d", stored.LastCounter)
	}
}

func TestAuthenticateReplayScenario(t *testing.T) {
	auth, repo, c := setupCard(t, 4)
	ctx := context.Background()

	p5, tag5 := encode(t, c, 5)
	if _, err := auth.AuthenticateHex(ctx, p5, tag5); err != nil {
		t.Fatalf("first tap: %v", err)
	}
	if _, err := auth.AuthenticateHex(ctx, p5, tag5); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("exact replay: expected replay, got %v", err)
	}
	p3, tag3 := encode(t, c, 3)
	if _, err := auth.AuthenticateHex(ctx, p3, tag3); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("older counter: expected replay, got %v", err)
	}

	p6, _ := encode(t, c, 6)
	if _, err := auth.AuthenticateHex(ctx, p6, "0000000000000000"); !errors.Is(err, ErrTagMismatch) {
		t.Fatalf("wrong tag: expected mismatch, got %v", err)
	}
	stored, _ := repo.Get(ctx, c.ID)
	if stored.LastCounter != 5 {
		t.Fatalf("expected counter unchanged at 5, got %d", stored.LastCounter)
	}
}

func TestReplayCheckedBeforeTag(t *testing.T) {
	auth, _, c := setupCard(t, 10)
	p, _ := encode(t, c, 10)
	if _, err := auth.AuthenticateHex(context.Background(), p, "ffffffffffffffff"); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected replay regardless of tag, got %v", err)
	}
}

func TestAuthenticateUnknownAndDisabledCards(t *testing.T) {
	auth, repo, c := setupCard(t, 0)
	ctx := context.Background()

	p, tag, err := EncodeTap("04000000000001", 1, c.K2, LegacyTag)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := auth.AuthenticateHex(ctx, p, tag); !errors.Is(err, ErrUnknownCard) {
		t.Fatalf("expected unknown card, got %v", err)
	}

	disabled := card.StatusDisabled
	if _, err := repo.Update(ctx, c.ID, card.UpdateInput{Status: &disabled}, time.Now()); err != nil {
		t.Fatalf("disable: %v", err)
	}
	p, tag = encode(t, c, 1)
	if _, err := auth.AuthenticateHex(ctx, p, tag); !errors.Is(err, ErrUnknownCard) {
		t.Fatalf("disabled card: expected unknown card, got %v", err)
	}
}

func TestAuthenticateMalformedInput(t *testing.T) {
	auth, _, _ := setupCard(t, 0)
	ctx := context.Background()
	if _, err := auth.AuthenticateHex(ctx, "zz", "00"); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}
	if _, err := auth.AuthenticateHex(ctx, "04a1", "00"); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed short payload, got %v", err)
	}
}

func TestConcurrentTapsSameCounter(t *testing.T) {
	auth, _, c := setupCard(t, 4)
	p, tag := encode(t, c, 5)

	var ok, replay int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := auth.AuthenticateHex(context.Background(), p, tag)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrReplayDetected):
				atomic.AddInt32(&replay, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || replay != 19 {
		t.Fatalf("expected 1 success and 19 replays, got %d/%d", ok, replay)
	}
}

func TestAESDecoderRoundTrip(t *testing.T) {
	keyHex := "00112233445566778899aabbccddeeff"
	dec, err := NewAESDecoder(keyHex)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	plain := make([]byte, aes.BlockSize)
	copy(plain, mustHex(t, testUID+"002a"))
	key, _ := hex.DecodeString(keyHex)
	block, _ := aes.NewCipher(key)
	enc := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(enc, plain)

	scan, err := dec.Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if scan.UIDHex() != testUID || scan.Counter != 42 {
		t.Fatalf("unexpected scan: %s/%d", scan.UIDHex(), scan.Counter)
	}
	if _, err := dec.Decode(enc[:9]); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed for partial block, got %v", err)
	}
}
