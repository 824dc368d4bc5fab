package cryptography

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// The platform envelope cipher is AEAD_AES_256_GCM with a 96 bit nonce
const (
	envelopeKeyLength   = 32
	envelopeNonceLength = 12
)

var (
	// ErrAuthenticationFailed - the envelope authentication tag did not verify,
	// treat as tampering rather than a transient failure
	ErrAuthenticationFailed = errors.New("envelope authentication failed")
)

// EncryptEnvelope seals plaintext with AEAD_AES_256_GCM under key, binding
// associatedData into the authentication tag, and returns the ciphertext
// (tag appended) together with the fresh nonce. The nonce is alphanumeric
// since the protocol carries it in a json string field
func EncryptEnvelope(key, associatedData, plaintext []byte) (encrypted []byte, nonce []byte, err error) {
	aesgcm, err := newEnvelopeAEAD(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err = generateEnvelopeNonce()
	if err != nil {
		return nil, nil, err
	}

	return aesgcm.Seal(nil, nonce, plaintext, associatedData), nonce, nil
}

var envelopeNonceLetters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func generateEnvelopeNonce() ([]byte, error) {
	max := big.NewInt(int64(len(envelopeNonceLetters)))
	nonce := make([]byte, envelopeNonceLength)
	for i := range nonce {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, err
		}
		nonce[i] = envelopeNonceLetters[n.Int64()]
	}
	return nonce, nil
}

// DecryptEnvelope opens an AEAD_AES_256_GCM envelope, as used for certificate
// download bundles and notification resources. On tag failure no plaintext is
// returned, only ErrAuthenticationFailed
func DecryptEnvelope(key, nonce, associatedData, ciphertext []byte) ([]byte, error) {
	aesgcm, err := newEnvelopeAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != envelopeNonceLength {
		return nil, fmt.Errorf("envelope nonce must be %d bytes, got %d", envelopeNonceLength, len(nonce))
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newEnvelopeAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != envelopeKeyLength {
		return nil, fmt.Errorf("envelope key must be %d bytes, got %d", envelopeKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
