package middleware

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidepay/wechatpay-go/httpsignature"
)

func signedNotification(t *testing.T, priv *httpsignature.RSAPrivKey, serial string, body []byte) *http.Request {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	nonce := "EV9started2099XijofGH"

	rsp := httpsignature.ResponseSignatureParams{
		Timestamp: timestamp,
		Nonce:     nonce,
		SerialNo:  serial,
	}
	sig, err := priv.Sign(rand.Reader, rsp.BuildSigningString(body), crypto.SHA256)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/wechatpay/notifications", bytes.NewBuffer(body))
	req.Header.Set(httpsignature.TimestampHeader, timestamp)
	req.Header.Set(httpsignature.NonceHeader, nonce)
	req.Header.Set(httpsignature.SerialHeader, serial)
	req.Header.Set(httpsignature.SignatureHeader, base64.StdEncoding.EncodeToString(sig))
	return req
}

func TestVerifiedNotificationsOnly(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv := (*httpsignature.RSAPrivKey)(key)
	wrongKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keystore := httpsignature.StaticKeystore{Verifier: priv.Public()}
	verifier := httpsignature.NewParameterizedKeystoreVerifier(&keystore)

	body := []byte(`{"id":"5c11e229-a5a1-5f2d-b2cf-0a4e1d6a4f2b","event_type":"TRANSACTION.SUCCESS"}`)

	fn1 := func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Should not have gotten here")
	}
	handler := VerifiedNotificationsOnly(verifier)(http.HandlerFunc(fn1))

	req := httptest.NewRequest("POST", "/wechatpay/notifications", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "notification without signature should fail")

	// the refusal must be in the shape the platform retries on
	var v map[string]interface{}
	err = json.NewDecoder(rr.Body).Decode(&v)
	assert.NoError(t, err)
	assert.Equal(t, "FAIL", v["code"].(string), "refusal code does not match")

	req = signedNotification(t, (*httpsignature.RSAPrivKey)(wrongKey), "4A2B", body)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code, "notification signed by the wrong key should fail")

	req = signedNotification(t, priv, "4A2B", body)
	req.Body = io.NopCloser(bytes.NewBufferString(`{"id":"tampered"}`))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code, "notification with altered body should fail")

	fn2 := func(w http.ResponseWriter, r *http.Request) {
		serial, err := GetSerial(r.Context())
		assert.NoError(t, err, "should be able to get the verifying serial")
		assert.Equal(t, "4A2B", serial, "serial should match the notification header")

		got, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, body, got, "handler should still see the body")
	}
	handler = VerifiedNotificationsOnly(verifier)(http.HandlerFunc(fn2))

	req = signedNotification(t, priv, "4A2B", body)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code, "verified notification should reach the handler")
}

func TestGetSerial(t *testing.T) {
	_, err := GetSerial(context.Background())
	assert.Error(t, err)

	serial, err := GetSerial(AddSerial(context.Background(), "4A2B"))
	assert.NoError(t, err)
	assert.Equal(t, "4A2B", serial)
}
