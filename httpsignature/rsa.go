package httpsignature

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// MinRSAKeyBits is the smallest merchant key size the gateway accepts
const MinRSAKeyBits = 2048

// RSAPrivKey is a wrapper type around rsa.PrivateKey to fulfill interface Signator
type RSAPrivKey rsa.PrivateKey

// RSAPubKey is a wrapper type around rsa.PublicKey to fulfill interface Verifier
type RSAPubKey rsa.PublicKey

// Sign the message with RSASSA-PKCS1-v1_5 using the hash from opts
func (k *RSAPrivKey) Sign(rand io.Reader, message []byte, opts crypto.SignerOpts) ([]byte, error) {
	hash := opts.HashFunc()
	hasher := hash.New()
	hasher.Write(message)
	return rsa.SignPKCS1v15(rand, (*rsa.PrivateKey)(k), hash, hasher.Sum(nil))
}

// Public returns the corresponding public key verifier
func (k *RSAPrivKey) Public() *RSAPubKey {
	return (*RSAPubKey)(&(*rsa.PrivateKey)(k).PublicKey)
}

// Verify the signature sig for message using the rsa public key
// Returns true if the signature is valid, false if not and error on any other failure
func (pk *RSAPubKey) Verify(message, sig []byte, opts crypto.SignerOpts) (bool, error) {
	hash := opts.HashFunc()
	hasher := hash.New()
	hasher.Write(message)
	err := rsa.VerifyPKCS1v15((*rsa.PublicKey)(pk), hash, hasher.Sum(nil), sig)
	if err != nil {
		if errors.Is(err, rsa.ErrVerification) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// String returns a hex fingerprint of the public key
func (pk *RSAPubKey) String() string {
	der, err := x509.MarshalPKIXPublicKey((*rsa.PublicKey)(pk))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// ParsePrivateKeyPEM loads an RSA private key from a PKCS#1 or PKCS#8 PEM block,
// rejecting keys smaller than MinRSAKeyBits
func ParsePrivateKeyPEM(keyPEM []byte) (*RSAPrivKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS1 private key: %w", err)
		}
		key = parsed
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 private key: %w", err)
		}
		var ok bool
		key, ok = parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
	default:
		return nil, fmt.Errorf("unsupported private key type: %s", block.Type)
	}

	if key.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("rsa key is %d bits, minimum is %d", key.N.BitLen(), MinRSAKeyBits)
	}
	return (*RSAPrivKey)(key), nil
}

// ParseCertificatePEM loads an X.509 certificate from a PEM block and returns
// it along with its RSA public key verifier
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, *RSAPubKey, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil, errors.New("failed to decode PEM block")
	}
	if block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("unsupported certificate type: %s", block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, nil, errors.New("certificate public key is not RSA")
	}
	if pub.N.BitLen() < MinRSAKeyBits {
		return nil, nil, fmt.Errorf("rsa key is %d bits, minimum is %d", pub.N.BitLen(), MinRSAKeyBits)
	}
	return cert, (*RSAPubKey)(pub), nil
}
