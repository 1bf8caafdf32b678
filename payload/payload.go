// Package payload defines the batch envelope shared by the tracker and the
// collector: a JSON array of {event, properties} records, optionally sealed
// with AES-256-GCM under a pre-shared secret.
package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
)

// Event is one tracked event as it travels over the wire.
type Event struct {
	Name       string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

// Marshal encodes a batch as a JSON array. Batches are never split or merged
// after this point; the byte slice is the transport unit.
func Marshal(batch []Event) ([]byte, error) {
	return json.Marshal(batch)
}

// Key is a 256-bit AES key.
type Key [32]byte

// DeriveKey maps a shared secret string onto an AES-256 key. Client and
// server must derive from the same secret or Open fails.
func DeriveKey(secret string) Key {
	return sha256.Sum256([]byte(secret))
}

const nonceSize = 12

// Seal encrypts plaintext with AES-256-GCM and returns an opaque text blob:
// base64(nonce || ciphertext).
func Seal(key Key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal. A mismatched key, truncated input,
// or tampered ciphertext all return an error; callers treat that as "not
// encrypted" and fall back to parsing the raw body.
func Open(key Key, blob []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(blob))
	if err != nil {
		return nil, err
	}
	if len(raw) < nonceSize {
		return nil, errors.New("payload: blob shorter than nonce")
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
}
