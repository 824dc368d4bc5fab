package cryptography

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"hash"
)

var (
	// ErrFieldTooLarge - the plaintext exceeds what a single RSA-OAEP block
	// under this key can carry
	ErrFieldTooLarge = errors.New("field is too large for rsa oaep encryption under this key")
)

// EncryptOAEP encrypts a sensitive field for the platform with RSA-OAEP over
// SHA-1, the protocol default, and returns it base64 encoded as it is carried
// in request bodies
func EncryptOAEP(pub *rsa.PublicKey, field []byte) (string, error) {
	return encryptOAEP(sha1.New(), pub, field)
}

// EncryptOAEPSHA256 is EncryptOAEP over SHA-256 for the endpoints that
// declare it in their cipher suite
func EncryptOAEPSHA256(pub *rsa.PublicKey, field []byte) (string, error) {
	return encryptOAEP(sha256.New(), pub, field)
}

// DecryptOAEP recovers a SHA-1 OAEP field encrypted to the merchant key
func DecryptOAEP(priv *rsa.PrivateKey, ciphertext string) ([]byte, error) {
	return decryptOAEP(sha1.New(), priv, ciphertext)
}

// DecryptOAEPSHA256 recovers a SHA-256 OAEP field encrypted to the merchant key
func DecryptOAEPSHA256(priv *rsa.PrivateKey, ciphertext string) ([]byte, error) {
	return decryptOAEP(sha256.New(), priv, ciphertext)
}

func encryptOAEP(h hash.Hash, pub *rsa.PublicKey, field []byte) (string, error) {
	if len(field) > pub.Size()-2*h.Size()-2 {
		return "", ErrFieldTooLarge
	}
	encrypted, err := rsa.EncryptOAEP(h, rand.Reader, pub, field, nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func decryptOAEP(h hash.Hash, priv *rsa.PrivateKey, ciphertext string) ([]byte, error) {
	encrypted, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, err
	}
	return rsa.DecryptOAEP(h, rand.Reader, priv, encrypted, nil)
}
