package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// ErrAuthenticationFailure indicates a sealed blob failed tag verification:
// either the ciphertext was tampered with or the wrong key was supplied.
var ErrAuthenticationFailure = errors.New("authentication failure")

// Hash computes a deterministic keyed HMAC-SHA256 digest, hex encoded. The
// same key must always be used for the same purpose; phone hashing and
// callback validation are configured with independent keys.
func Hash(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Seal encrypts plaintext with AES-256-GCM and returns a self-contained blob
// laid out as nonce ‖ tag ‖ ciphertext. A fresh random nonce is drawn on
// every call.
func Seal(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}

	// Seal appends ciphertext||tag; reorder to nonce||tag||ciphertext so the
	// blob is self-describing for Open.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+tagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// Open decrypts a blob produced by Seal. It returns ErrAuthenticationFailure
// when the tag does not verify and never returns partial plaintext.
func Open(sealed, key []byte) ([]byte, error) {
	if len(sealed) < nonceSize+tagSize {
		return nil, ErrAuthenticationFailure
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := sealed[:nonceSize]
	tag := sealed[nonceSize : nonceSize+tagSize]
	ct := sealed[nonceSize+tagSize:]

	buf := make([]byte, 0, len(ct)+tagSize)
	buf = append(buf, ct...)
	buf = append(buf, tag...)

	plaintext, err := aead.Open(nil, nonce, buf, nil)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

// Zero overwrites sensitive byte material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
