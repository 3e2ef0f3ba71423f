// Package encryption implements the AES-256-GCM seal/open primitive for
// evidence envelopes shipped by edge devices.
//
// Envelope layout: 12-byte nonce | 16-byte authentication tag | ciphertext.
// Open is decrypt-and-verify: a forged or truncated envelope fails
// authentication and yields no plaintext.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	nonceSize = 12
	tagSize   = 16
	// minEnvelopeSize is nonce + tag with an empty ciphertext.
	minEnvelopeSize = nonceSize + tagSize
)

var (
	// ErrInvalidKey is returned when the configured key is not 64 hex
	// characters (32 bytes).
	ErrInvalidKey = errors.New("encryption: key must be a 64-character hex string")

	// ErrEnvelopeTooShort is returned for payloads smaller than the fixed
	// nonce + tag prefix.
	ErrEnvelopeTooShort = errors.New("encryption: envelope too short")

	// ErrAuthentication is returned when the GCM tag does not verify: the
	// envelope was forged, corrupted, or sealed under a different key.
	ErrAuthentication = errors.New("encryption: authentication failed")
)

// ParseKey decodes a 64-character hex key into 32 raw bytes.
func ParseKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// Open decrypts and verifies an evidence envelope, returning the plaintext.
func Open(key, envelope []byte) ([]byte, error) {
	if len(envelope) < minEnvelopeSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrEnvelopeTooShort, len(envelope), minEnvelopeSize)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := envelope[:nonceSize]
	tag := envelope[nonceSize:minEnvelopeSize]
	ciphertext := envelope[minEnvelopeSize:]

	// cipher.AEAD expects the tag appended to the ciphertext.
	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Seal encrypts plaintext into the envelope layout with a fresh random nonce.
// Used by the CLI and seed tooling; the server only ever opens envelopes.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, minEnvelopeSize+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
