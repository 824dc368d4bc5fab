package wechatpay

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidepay/wechatpay-go/cryptography"
	"github.com/tidepay/wechatpay-go/httpsignature"
)

func TestNewKeyMaterialValidation(t *testing.T) {
	_, keyPEM := merchantKeyPEM(t)

	_, err := NewKeyMaterial("", testSerialNo, keyPEM, testAPIv3Key)
	assert.ErrorContains(t, err, "merchant id is required")

	_, err = NewKeyMaterial(testMchID, "", keyPEM, testAPIv3Key)
	assert.ErrorContains(t, err, "serial is required")

	_, err = NewKeyMaterial(testMchID, testSerialNo, keyPEM, "tooshort")
	assert.ErrorContains(t, err, "apiv3 key must be 32 bytes")

	_, err = NewKeyMaterial(testMchID, testSerialNo, []byte("not a pem"), testAPIv3Key)
	assert.ErrorContains(t, err, "invalid merchant private key")

	km, err := NewKeyMaterial(testMchID, testSerialNo, keyPEM, testAPIv3Key)
	require.NoError(t, err)
	assert.Equal(t, testMchID, km.MchID)
	assert.Equal(t, testSerialNo, km.SerialNo)
}

func TestKeyMaterialAPIv3KeyIsACopy(t *testing.T) {
	_, keyPEM := merchantKeyPEM(t)
	km, err := NewKeyMaterial(testMchID, testSerialNo, keyPEM, testAPIv3Key)
	require.NoError(t, err)

	k := km.APIv3Key()
	k[0] ^= 0xff
	assert.Equal(t, []byte(testAPIv3Key), km.APIv3Key())
}

func TestKeyMaterialStringLeaksNoKeys(t *testing.T) {
	_, keyPEM := merchantKeyPEM(t)
	km, err := NewKeyMaterial(testMchID, testSerialNo, keyPEM, testAPIv3Key)
	require.NoError(t, err)

	s := km.String()
	assert.Contains(t, s, testMchID)
	assert.Contains(t, s, testSerialNo)
	assert.NotContains(t, s, testAPIv3Key)
	assert.NotContains(t, s, "PRIVATE KEY")
}

func TestKeyMaterialSignatorRoundTrip(t *testing.T) {
	merchantKey, keyPEM := merchantKeyPEM(t)
	km, err := NewKeyMaterial(testMchID, testSerialNo, keyPEM, testAPIv3Key)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "https://api.mch.weixin.qq.com/v3/pay/transactions/native", nil)
	require.NoError(t, err)
	require.NoError(t, km.Signator().SignRequest(req))

	sig, err := httpsignature.SignatureFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, testMchID, sig.MerchantID)
	assert.Equal(t, testSerialNo, sig.SerialNo)

	ss, err := sig.BuildSigningString(req)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sig.Sig)
	require.NoError(t, err)
	valid, err := (*httpsignature.RSAPubKey)(&merchantKey.PublicKey).Verify(ss, raw, crypto.SHA256)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestKeyMaterialSign(t *testing.T) {
	merchantKey, keyPEM := merchantKeyPEM(t)
	km, err := NewKeyMaterial(testMchID, testSerialNo, keyPEM, testAPIv3Key)
	require.NoError(t, err)

	sig, err := km.Sign(rand.Reader, []byte("appid\n12345\nnonce\nprepay_id=abc\n"))
	require.NoError(t, err)

	valid, err := (*httpsignature.RSAPubKey)(&merchantKey.PublicKey).Verify([]byte("appid\n12345\nnonce\nprepay_id=abc\n"), sig, crypto.SHA256)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestKeyMaterialDecryptOAEP(t *testing.T) {
	merchantKey, keyPEM := merchantKeyPEM(t)
	km, err := NewKeyMaterial(testMchID, testSerialNo, keyPEM, testAPIv3Key)
	require.NoError(t, err)

	ciphertext, err := cryptography.EncryptOAEP(&merchantKey.PublicKey, []byte("6225760000000000"))
	require.NoError(t, err)

	plain, err := km.DecryptOAEP(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "6225760000000000", string(plain))
}
