package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	e := NewEncryptor("test-secret")

	ciphertext, err := e.Encrypt([]byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("hello"), ciphertext)

	plaintext, err := e.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)
}

func TestDecryptTamperedFails(t *testing.T) {
	e := NewEncryptor("test-secret")
	ciphertext, err := e.Encrypt([]byte("hello"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = e.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	ciphertext, err := NewEncryptor("key-one").Encrypt([]byte("hello"))
	require.NoError(t, err)

	_, err = NewEncryptor("key-two").Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecryptShortCiphertext(t *testing.T) {
	e := NewEncryptor("test-secret")
	_, err := e.Decrypt([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCredentialsRoundtrip(t *testing.T) {
	e := NewEncryptor("test-secret")
	creds := map[string]string{
		"accessKeyId":     "AKIA123",
		"secretAccessKey": "s3cret",
	}

	sealed, err := e.EncryptCredentials(creds)
	require.NoError(t, err)

	opened, err := e.DecryptCredentials(sealed)
	require.NoError(t, err)
	assert.Equal(t, creds, opened)
}

func TestEncryptionIsRandomized(t *testing.T) {
	e := NewEncryptor("test-secret")
	a, err := e.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := e.Encrypt([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
