package cryptography

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oaepKey(t *testing.T) *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestOAEPRoundTrip(t *testing.T) {
	key := oaepKey(t)
	field := []byte("110101200001011234")

	ciphertext, err := EncryptOAEP(&key.PublicKey, field)
	require.NoError(t, err)
	_, err = base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err, "ciphertext must be transmissible as a base64 json field")

	decrypted, err := DecryptOAEP(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, field, decrypted)
}

func TestOAEPSHA256RoundTrip(t *testing.T) {
	key := oaepKey(t)
	field := []byte("6225880212345678")

	ciphertext, err := EncryptOAEPSHA256(&key.PublicKey, field)
	require.NoError(t, err)
	decrypted, err := DecryptOAEPSHA256(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, field, decrypted)

	// the hash variants do not interoperate
	_, err = DecryptOAEP(key, ciphertext)
	assert.Error(t, err)
}

func TestOAEPFieldTooLarge(t *testing.T) {
	key := oaepKey(t)

	// k - 2*hLen - 2 for a 2048 bit key over SHA-1
	limit := 256 - 2*20 - 2
	ciphertext, err := EncryptOAEP(&key.PublicKey, bytes.Repeat([]byte{'a'}, limit))
	require.NoError(t, err)
	decrypted, err := DecryptOAEP(key, ciphertext)
	require.NoError(t, err)
	assert.Len(t, decrypted, limit)

	_, err = EncryptOAEP(&key.PublicKey, bytes.Repeat([]byte{'a'}, limit+1))
	assert.ErrorIs(t, err, ErrFieldTooLarge)

	// SHA-256 padding leaves less room
	_, err = EncryptOAEPSHA256(&key.PublicKey, bytes.Repeat([]byte{'a'}, 256-2*32-2+1))
	assert.ErrorIs(t, err, ErrFieldTooLarge)
}

func TestOAEPDecryptErrors(t *testing.T) {
	key := oaepKey(t)

	_, err := DecryptOAEP(key, "not base64!")
	assert.Error(t, err)

	// encrypted to a different key
	other := oaepKey(t)
	ciphertext, err := EncryptOAEP(&other.PublicKey, []byte("secret"))
	require.NoError(t, err)
	_, err = DecryptOAEP(key, ciphertext)
	assert.Error(t, err)
}
