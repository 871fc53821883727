package security

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testKey(t *testing.T) string {
	t.Helper()
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	return key
}

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey(t))
	require.NoError(t, err)
	return c
}

func TestNewCipher_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{
			name:    "empty key",
			key:     "",
			wantErr: "not configured",
		},
		{
			name:    "not base64",
			key:     "!!!not-base64!!!",
			wantErr: "not valid base64",
		},
		{
			name:    "wrong length",
			key:     base64.RawURLEncoding.EncodeToString([]byte("short")),
			wantErr: "32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCipher(tt.key)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewCipher_AcceptsPaddedStandardBase64(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 32)
	padded := base64.StdEncoding.EncodeToString(raw)
	_, err := NewCipher(padded)
	require.NoError(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	rapid.Check(t, func(t *rapid.T) {
		plaintext := rapid.StringN(1, 512, -1).Draw(t, "plaintext")

		ciphertext, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if bytes.Contains(ciphertext, []byte(plaintext)) && len(plaintext) > 3 {
			t.Fatalf("ciphertext contains plaintext bytes")
		}

		got, err := c.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	})
}

func TestEncrypt_RejectsEmptyPlaintext(t *testing.T) {
	c := newTestCipher(t)
	_, err := c.Encrypt("")
	require.Error(t, err)
}

func TestEncrypt_NonceUnique(t *testing.T) {
	c := newTestCipher(t)
	first, err := c.Encrypt("same token")
	require.NoError(t, err)
	second, err := c.Encrypt("same token")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "two encryptions of the same plaintext must differ")
}

func TestDecrypt_FailsClosed(t *testing.T) {
	c := newTestCipher(t)
	ciphertext, err := c.Encrypt("ya29.a0AfH6SMC-token")
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := c.Decrypt(nil)
		require.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := c.Decrypt(ciphertext[:8])
		require.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), ciphertext...)
		tampered[len(tampered)-1] ^= 0xff
		_, err := c.Decrypt(tampered)
		require.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("different key", func(t *testing.T) {
		other := newTestCipher(t)
		_, err := other.Decrypt(ciphertext)
		require.ErrorIs(t, err, ErrDecrypt)
	})
}

func TestSecretDigest_VerifySecret(t *testing.T) {
	c := newTestCipher(t)

	secret, err := RandomToken(32)
	require.NoError(t, err)
	digest := c.SecretDigest(secret)

	assert.True(t, c.VerifySecret(secret, digest))
	assert.False(t, c.VerifySecret(secret+"x", digest))
	assert.False(t, c.VerifySecret("", digest))
	assert.False(t, c.VerifySecret(secret, nil), "unknown client must fail closed")
}

func TestSecretDigest_KeyDependent(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)
	assert.NotEqual(t, a.SecretDigest("secret"), b.SecretDigest("secret"))
}

func TestRandomToken_LengthAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		tok, err := RandomToken(32)
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.False(t, seen[tok], "token collision")
		seen[tok] = true
	}
}
