package wechatpay

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"

	"github.com/tidepay/wechatpay-go/cryptography"
	"github.com/tidepay/wechatpay-go/httpsignature"
)

// APIv3KeyLength is the size of the envelope secret issued by the gateway console
const APIv3KeyLength = 32

// KeyMaterial is the merchant identity everything else borrows: the merchant
// id, the serial of the merchant certificate, the RSA private key behind that
// certificate and the APIv3 envelope secret. It is constructed once, validated
// up front and never mutated. Neither key ever appears in logs or output.
type KeyMaterial struct {
	MchID    string
	SerialNo string

	priv     *httpsignature.RSAPrivKey
	apiv3Key []byte
}

// NewKeyMaterial validates and assembles the merchant identity. The private
// key is PKCS#1 or PKCS#8 PEM and must be at least 2048 bits, the APIv3 key
// must be exactly 32 bytes.
func NewKeyMaterial(mchID, serialNo string, privateKeyPEM []byte, apiv3Key string) (*KeyMaterial, error) {
	if len(mchID) == 0 {
		return nil, errors.New("merchant id is required")
	}
	if len(serialNo) == 0 {
		return nil, errors.New("merchant certificate serial is required")
	}
	if len(apiv3Key) != APIv3KeyLength {
		return nil, fmt.Errorf("apiv3 key must be %d bytes, got %d", APIv3KeyLength, len(apiv3Key))
	}

	priv, err := httpsignature.ParsePrivateKeyPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid merchant private key: %w", err)
	}

	return &KeyMaterial{
		MchID:    mchID,
		SerialNo: serialNo,
		priv:     priv,
		apiv3Key: []byte(apiv3Key),
	}, nil
}

// Signator returns a request signator stamping requests on behalf of this merchant
func (km *KeyMaterial) Signator() *httpsignature.ParameterizedSignator {
	return httpsignature.NewParameterizedSignator(
		httpsignature.SignatureParams{
			Algorithm:  httpsignature.WECHATPAY2SHA256RSA2048,
			MerchantID: km.MchID,
			SerialNo:   km.SerialNo,
		},
		km.priv,
	)
}

// APIv3Key returns a copy of the envelope secret
func (km *KeyMaterial) APIv3Key() []byte {
	out := make([]byte, len(km.apiv3Key))
	copy(out, km.apiv3Key)
	return out
}

// Sign signs message with the merchant private key, RSASSA-PKCS1-v1_5 over SHA-256
func (km *KeyMaterial) Sign(rand io.Reader, message []byte) ([]byte, error) {
	return km.priv.Sign(rand, message, crypto.SHA256)
}

// DecryptOAEP reveals a field that was encrypted to the merchant certificate
func (km *KeyMaterial) DecryptOAEP(ciphertext string) ([]byte, error) {
	return cryptography.DecryptOAEP((*rsa.PrivateKey)(km.priv), ciphertext)
}

// String identifies the merchant without exposing any key material
func (km *KeyMaterial) String() string {
	return fmt.Sprintf("mchid %s serial %s", km.MchID, km.SerialNo)
}
