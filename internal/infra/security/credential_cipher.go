package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"mpesa-subscription-billing/internal/domain/model"
)

// CredentialCipher encrypts per-business Daraja credentials at rest.
// AES-GCM (AEAD) with a random nonce per message; stored value is
// base64(nonce || ciphertext) of the JSON-encoded credential set.
type CredentialCipher struct {
	gcm cipher.AEAD
}

// NewCredentialCipher constructs the cipher. Key must be 16, 24, or 32 bytes
// (AES-128/192/256).
func NewCredentialCipher(key string) (*CredentialCipher, error) {
	k := []byte(key)
	n := len(k)
	if n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &CredentialCipher{gcm: gcm}, nil
}

// Seal encrypts a credential set for storage.
func (c *CredentialCipher) Seal(creds *model.DarajaCredentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := c.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a stored credential set.
func (c *CredentialCipher) Open(b64 string) (*model.DarajaCredentials, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	ns := c.gcm.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := data[:ns], data[ns:]
	pt, err := c.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	var creds model.DarajaCredentials
	if err := json.Unmarshal(pt, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &creds, nil
}
