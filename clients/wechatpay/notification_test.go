package wechatpay

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidepay/wechatpay-go/cryptography"
	"github.com/tidepay/wechatpay-go/httpsignature"
	"github.com/tidepay/wechatpay-go/test"
)

// sealedNotification builds a webhook delivery body whose resource is sealed
// under apiv3Key the way the platform sends them
func sealedNotification(t *testing.T, apiv3Key, resource []byte) []byte {
	ciphertext, nonce, err := cryptography.EncryptEnvelope(apiv3Key, []byte("transaction"), resource)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"id":            "EV-2018022511223320873",
		"create_time":   time.Now().Format(time.RFC3339),
		"event_type":    "TRANSACTION.SUCCESS",
		"resource_type": "encrypt-resource",
		"summary":       "支付成功",
		"resource": map[string]string{
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      base64.StdEncoding.EncodeToString(ciphertext),
			"associated_data": "transaction",
			"original_type":   "transaction",
			"nonce":           string(nonce),
		},
	})
	require.NoError(t, err)
	return body
}

// signedDelivery wraps body in a request carrying platform signature headers
// over the given timestamp
func (g *fakeGateway) signedDelivery(t *testing.T, body []byte, ts string) *http.Request {
	nonce := test.RandomString()
	rsp := httpsignature.ResponseSignatureParams{Timestamp: ts, Nonce: nonce, SerialNo: g.platform.serial}
	sig, err := (*httpsignature.RSAPrivKey)(g.platform.key).Sign(rand.Reader, rsp.BuildSigningString(body), crypto.SHA256)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, testNotify, bytes.NewReader(body))
	req.Header.Set("content-type", "application/json")
	req.Header.Set(httpsignature.TimestampHeader, ts)
	req.Header.Set(httpsignature.NonceHeader, nonce)
	req.Header.Set(httpsignature.SerialHeader, g.platform.serial)
	req.Header.Set(httpsignature.SignatureHeader, base64.StdEncoding.EncodeToString(sig))
	return req
}

func TestHandleNotification(t *testing.T) {
	client, gateway, _ := newTestClient(t)

	resource, err := json.Marshal(Transaction{
		AppID:         testAppID,
		MchID:         testMchID,
		OutTradeNo:    "order-20250825-0001",
		TransactionID: "4200000985202103031441826014",
		TradeType:     "NATIVE",
		TradeState:    "SUCCESS",
		Payer:         &Payer{OpenID: "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o"},
		Amount:        &TransactionAmount{Total: 101, PayerTotal: 101, Currency: "CNY"},
	})
	require.NoError(t, err)

	body := sealedNotification(t, gateway.apiv3Key, resource)
	req := gateway.signedDelivery(t, body, strconv.FormatInt(time.Now().Unix(), 10))

	n, err := client.HandleNotification(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "TRANSACTION.SUCCESS", n.EventType)
	assert.Equal(t, "EV-2018022511223320873", n.ID)

	tx, err := n.Transaction()
	require.NoError(t, err)
	assert.Equal(t, "order-20250825-0001", tx.OutTradeNo)
	assert.Equal(t, "SUCCESS", tx.TradeState)
	require.NotNil(t, tx.Amount)
	assert.Equal(t, int64(101), tx.Amount.Total)

	// the body stays readable for whatever handler runs after us
	replay, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, replay)
}

func TestHandleNotificationTampered(t *testing.T) {
	client, gateway, _ := newTestClient(t)

	body := sealedNotification(t, gateway.apiv3Key, []byte(`{"out_trade_no":"order-20250825-0001"}`))
	req := gateway.signedDelivery(t, body, strconv.FormatInt(time.Now().Unix(), 10))

	// flip the body after signing
	req.Body = io.NopCloser(bytes.NewReader(append([]byte(" "), body...)))

	_, err := client.HandleNotification(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, httpsignature.ErrSignatureMismatch)
}

func TestHandleNotificationStaleTimestamp(t *testing.T) {
	client, gateway, _ := newTestClient(t)

	body := sealedNotification(t, gateway.apiv3Key, []byte(`{"out_trade_no":"order-20250825-0001"}`))
	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	req := gateway.signedDelivery(t, body, stale)

	_, err := client.HandleNotification(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, httpsignature.ErrStaleTimestamp)
}

func TestHandleNotificationWrongEnvelopeKey(t *testing.T) {
	client, gateway, _ := newTestClient(t)

	// correctly signed delivery whose resource was sealed under someone
	// else's envelope key
	body := sealedNotification(t, []byte("ffffffffffffffffffffffffffffffff"), []byte(`{"out_trade_no":"order-20250825-0001"}`))
	req := gateway.signedDelivery(t, body, strconv.FormatInt(time.Now().Unix(), 10))

	_, err := client.HandleNotification(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, cryptography.ErrAuthenticationFailed)
}

func TestHandleNotificationRejectsUnknownAlgorithm(t *testing.T) {
	client, gateway, _ := newTestClient(t)

	body, err := json.Marshal(map[string]interface{}{
		"id":            "EV-2018022511223320873",
		"create_time":   time.Now().Format(time.RFC3339),
		"event_type":    "TRANSACTION.SUCCESS",
		"resource_type": "encrypt-resource",
		"resource": map[string]string{
			"algorithm":  "AEAD_AES_256_CBC",
			"ciphertext": base64.StdEncoding.EncodeToString([]byte("irrelevant")),
			"nonce":      "abcdefghijkl",
		},
	})
	require.NoError(t, err)
	req := gateway.signedDelivery(t, body, strconv.FormatInt(time.Now().Unix(), 10))

	_, err = client.HandleNotification(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported resource algorithm")
}

func TestNotificationTransactionRequiresOpen(t *testing.T) {
	n := Notification{}
	_, err := n.Transaction()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been opened")
}
