// Package security implements the token cipher and client-secret digests.
//
// Provider tokens are encrypted at rest with AES-256-GCM; client secrets are
// never stored, only a keyed HMAC-SHA256 digest compared in constant time.
// Both keys derive from one 32-byte master key via HKDF, so a single
// ENCRYPTION_KEY setting covers the whole process.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const masterKeySize = 32

// ErrDecrypt indicates ciphertext that is truncated, tampered with, or was
// produced under a different key. Callers must treat it as distinct from
// not-found.
var ErrDecrypt = errors.New("decryption failed")

// Cipher performs authenticated encryption of token strings and keyed
// digests of client secrets. Safe for concurrent use.
type Cipher struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewCipher derives the encryption and MAC subkeys from the configured
// master key and validates it fails fast: a missing or malformed key is a
// startup error, never a per-call one.
func NewCipher(masterKey string) (*Cipher, error) {
	if masterKey == "" {
		return nil, errors.New("encryption key is not configured")
	}
	key, err := decodeKey(masterKey)
	if err != nil {
		return nil, err
	}

	aesKey, err := deriveKey(key, "taskmcp token encryption")
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(key, "taskmcp client secret mac")
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	return &Cipher{aead: aead, macKey: macKey}, nil
}

// decodeKey accepts the master key as URL-safe or standard base64, padded or
// not, and requires exactly 32 decoded bytes.
func decodeKey(masterKey string) ([]byte, error) {
	trimmed := strings.TrimRight(masterKey, "=")
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.RawStdEncoding} {
		key, err := enc.DecodeString(trimmed)
		if err == nil {
			if len(key) != masterKeySize {
				return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", masterKeySize, len(key))
			}
			return key, nil
		}
	}
	return nil, errors.New("encryption key is not valid base64")
}

func deriveKey(master []byte, info string) ([]byte, error) {
	key := make([]byte, masterKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Encrypt seals a plaintext token. The random nonce is prepended to the
// ciphertext. Empty plaintext is rejected so a missing token can never be
// persisted as a valid-looking record.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, errors.New("cannot encrypt empty token")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a sealed token. Any tampering or key mismatch surfaces as
// ErrDecrypt.
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", fmt.Errorf("%w: empty ciphertext", ErrDecrypt)
	}
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) <= nonceSize {
		return "", fmt.Errorf("%w: ciphertext truncated", ErrDecrypt)
	}
	plaintext, err := c.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// SecretDigest computes the keyed digest stored in place of a client secret.
func (c *Cipher) SecretDigest(secret string) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write([]byte(secret))
	return mac.Sum(nil)
}

// VerifySecret compares a presented secret against a stored digest in
// constant time. When the stored digest is nil (unknown client) a dummy
// digest is compared instead so the caller's timing does not reveal whether
// the client exists.
func (c *Cipher) VerifySecret(secret string, digest []byte) bool {
	presented := c.SecretDigest(secret)
	if digest == nil {
		dummy := c.SecretDigest("taskmcp dummy secret for constant-time comparison")
		hmac.Equal(presented, dummy)
		return false
	}
	return hmac.Equal(presented, digest)
}

// RandomToken returns a URL-safe token from n bytes of crypto/rand entropy.
// 32 bytes yields the 43-character identifiers used for sessions and states.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateMasterKey returns a fresh base64 master key suitable for the
// ENCRYPTION_KEY setting.
func GenerateMasterKey() (string, error) {
	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}
