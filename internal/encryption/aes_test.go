package encryption_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/forensicedr/forensicedr/internal/encryption"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := encryption.ParseKey(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestSealOpen_roundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"event_id":"EVT-1","severity":"severe"}`)

	envelope, err := encryption.Seal(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(envelope) != 12+16+len(plaintext) {
		t.Errorf("envelope length %d, want nonce+tag+ciphertext = %d", len(envelope), 28+len(plaintext))
	}

	got, err := encryption.Open(key, envelope)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestOpen_rejectsTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	envelope, err := encryption.Seal(key, []byte("evidence payload"))
	if err != nil {
		t.Fatal(err)
	}
	envelope[len(envelope)-1] ^= 0x01

	if _, err := encryption.Open(key, envelope); !errors.Is(err, encryption.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
}

func TestOpen_rejectsWrongKey(t *testing.T) {
	key := testKey(t)
	envelope, _ := encryption.Seal(key, []byte("evidence payload"))

	other, _ := encryption.ParseKey(strings.Repeat("ff", 32))
	if _, err := encryption.Open(other, envelope); !errors.Is(err, encryption.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
}

func TestOpen_rejectsShortEnvelope(t *testing.T) {
	if _, err := encryption.Open(testKey(t), make([]byte, 27)); !errors.Is(err, encryption.ErrEnvelopeTooShort) {
		t.Errorf("expected ErrEnvelopeTooShort, got %v", err)
	}
}

func TestParseKey_rejectsBadKeys(t *testing.T) {
	for _, k := range []string{"", "abcd", strings.Repeat("0", 63), strings.Repeat("zz", 32)} {
		if _, err := encryption.ParseKey(k); !errors.Is(err, encryption.ErrInvalidKey) {
			t.Errorf("key %q: expected ErrInvalidKey, got %v", k, err)
		}
	}
}
