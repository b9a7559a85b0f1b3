// Package crypto provides AES-256-GCM encryption for cloud account
// credentials at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
)

// Encryptor seals and opens credential payloads with a 32-byte key.
type Encryptor struct {
	key []byte
}

// NewEncryptor derives a 256-bit key from the configured secret.
func NewEncryptor(secret string) *Encryptor {
	sum := sha256.Sum256([]byte(secret))
	return &Encryptor{key: sum[:]}
}

// Encrypt seals plaintext with AES-256-GCM. The nonce is prepended to the
// ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptCredentials serializes and seals a credential map.
func (e *Encryptor) EncryptCredentials(creds map[string]string) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to marshal credentials: %w", err)
	}
	return e.Encrypt(plaintext)
}

// DecryptCredentials opens and deserializes a credential payload.
func (e *Encryptor) DecryptCredentials(ciphertext []byte) (map[string]string, error) {
	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("crypto: failed to unmarshal credentials: %w", err)
	}
	return creds, nil
}
