// Package wechatpay provides the merchant-side client for the WeChat Pay v3
// gateway: signed transaction endpoints, verified responses, webhook
// notification handling and sensitive field protection. Response signatures
// are checked against the rotating platform certificate store before any
// body is decoded.
package wechatpay

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/tidepay/wechatpay-go/certstore"
	"github.com/tidepay/wechatpay-go/clients"
	"github.com/tidepay/wechatpay-go/closers"
	"github.com/tidepay/wechatpay-go/cryptography"
	errorutils "github.com/tidepay/wechatpay-go/errors"
	"github.com/tidepay/wechatpay-go/httpsignature"
	"github.com/tidepay/wechatpay-go/requestutils"
)

// ProductionAPI is the live gateway base url
const ProductionAPI = "https://api.mch.weixin.qq.com"

const (
	nativePayPath     = "/v3/pay/transactions/native"
	jsapiPayPath      = "/v3/pay/transactions/jsapi"
	appPayPath        = "/v3/pay/transactions/app"
	h5PayPath         = "/v3/pay/transactions/h5"
	queryOrderPath    = "/v3/pay/transactions/out-trade-no/"
	refundsPath       = "/v3/refund/domestic/refunds"
	transferBillsPath = "/v3/fund-app/mch-transfer/transfer-bills"
)

// ErrWeixinURLNotFound - the H5 payment page carried no weixin deep link
var ErrWeixinURLNotFound = errors.New("no weixin deep link in h5 page")

// Client abstracts over the underlying client
type Client interface {
	NativePay(ctx context.Context, params *NativeParams) (*NativeResponse, error)
	JsapiPay(ctx context.Context, params *JsapiParams) (*JsapiResponse, error)
	MicroPay(ctx context.Context, params *MicroParams) (*MicroResponse, error)
	AppPay(ctx context.Context, params *AppParams) (*AppResponse, error)
	H5Pay(ctx context.Context, params *H5Params) (*H5Response, error)
	Refunds(ctx context.Context, params *RefundsParams) (*RefundsResponse, error)
	TransferBills(ctx context.Context, params *TransferBillsParams) (*TransferBillsResponse, error)
	QueryOrderByOutTradeNo(ctx context.Context, outTradeNo string) (*Transaction, error)
	Get(ctx context.Context, path string, qsb clients.QueryStringBody, v interface{}) error
	Certificates(ctx context.Context) ([]*certstore.PlatformCertificate, error)
	HandleNotification(ctx context.Context, req *http.Request) (*Notification, error)
	EncryptSensitiveField(ctx context.Context, field string) (string, string, error)
	DecryptSensitiveField(ctx context.Context, ciphertext string) (string, error)
	WeixinURL(ctx context.Context, h5URL, referer string) (string, error)
}

// Conf wires up a gateway client: where it talks to, which application it
// acts for, where notifications land and the merchant key material
type Conf struct {
	ServerURL string
	AppID     string
	NotifyURL string
	ProxyURL  string
	// Tolerance overrides the verifier timestamp window when positive
	Tolerance time.Duration
	Keys      *KeyMaterial
}

// HTTPClient wraps http calls to the gateway
type HTTPClient struct {
	client    *clients.SimpleHTTPClient
	store     *certstore.Store
	verifier  *httpsignature.ParameterizedKeystoreVerifier
	keys      *KeyMaterial
	appID     string
	notifyURL string

	// h5 handoff pages live outside the gateway and are fetched unsigned
	pageClient *http.Client

	now  func() time.Time
	rand io.Reader
}

// New returns a gateway client for conf along with the certificate store
// backing its response verification. Long lived processes should Bootstrap
// the store at startup and keep RunRefresher going so rotations land before
// verifications start missing.
func New(conf Conf) (Client, *certstore.Store, error) {
	if conf.Keys == nil {
		return nil, nil, errors.New("key material is required")
	}
	if len(conf.AppID) == 0 {
		return nil, nil, errors.New("appid is required")
	}
	if len(conf.ServerURL) == 0 {
		conf.ServerURL = ProductionAPI
	}

	signator := conf.Keys.Signator()

	store, err := certstore.New(conf.ServerURL, signator, conf.Keys.APIv3Key())
	if err != nil {
		return nil, nil, err
	}

	verifier := httpsignature.NewParameterizedKeystoreVerifier(store)
	if conf.Tolerance > 0 {
		verifier.Tolerance = conf.Tolerance
	}

	var client *clients.SimpleHTTPClient
	if len(conf.ProxyURL) > 0 {
		client, err = clients.NewWithProxy("wechatpay", conf.ServerURL, signator, verifier, conf.ProxyURL)
	} else {
		client, err = clients.New(conf.ServerURL, signator, verifier)
	}
	if err != nil {
		return nil, nil, err
	}

	httpClient := &HTTPClient{
		client:     client,
		store:      store,
		verifier:   verifier,
		keys:       conf.Keys,
		appID:      conf.AppID,
		notifyURL:  conf.NotifyURL,
		pageClient: &http.Client{Timeout: time.Second * 10},
		now:        time.Now,
		rand:       rand.Reader,
	}
	return NewClientWithPrometheus(httpClient, "wechatpay_client"), store, nil
}

// withIdentity folds the application id, merchant id and notification url
// into the params the way the transaction endpoints expect them, preserving
// the numeric fields exactly as the caller encoded them
func (c *HTTPClient) withIdentity(params interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to encode params")
	}

	body := make(map[string]interface{})
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, errorutils.Wrap(err, "failed to encode params")
	}

	body["appid"] = c.appID
	body["mchid"] = c.keys.MchID
	body["notify_url"] = c.notifyURL
	return body, nil
}

// transact posts params to a transaction endpoint with the merchant
// identity folded in, decoding the verified response into v
func (c *HTTPClient) transact(ctx context.Context, path string, params interface{}, v interface{}) error {
	if _, err := govalidator.ValidateStruct(params); err != nil {
		return errorutils.Wrap(err, "invalid transaction params")
	}

	body, err := c.withIdentity(params)
	if err != nil {
		return err
	}

	req, err := c.client.NewRequest(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		return err
	}

	_, err = c.client.Do(ctx, req, v)
	return err
}

// signData produces the payment sheet invocation signature handed back to
// the JSAPI or APP caller: application id, timestamp, nonce and package,
// newline terminated, signed with the merchant key
func (c *HTTPClient) signData(pkgPrefix, prepayID string) (*SignData, error) {
	timestamp := fmt.Sprintf("%d", c.now().Unix())
	nonce, err := httpsignature.GenerateNonce(c.rand)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpsignature.ErrSigningFailed, err)
	}

	pkg := pkgPrefix + prepayID
	message := fmt.Sprintf("%s\n%s\n%s\n%s\n", c.appID, timestamp, nonce, pkg)
	sig, err := c.keys.Sign(c.rand, []byte(message))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpsignature.ErrSigningFailed, err)
	}

	return &SignData{
		AppID:     c.appID,
		TimeStamp: timestamp,
		NonceStr:  nonce,
		Package:   pkg,
		SignType:  "RSA",
		PaySign:   base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// NativePay creates an order paid by scanning the returned code url
func (c *HTTPClient) NativePay(ctx context.Context, params *NativeParams) (*NativeResponse, error) {
	var resp NativeResponse
	if err := c.transact(ctx, nativePayPath, params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JsapiPay creates an order and derives the payment sheet signature from
// the returned prepay id
func (c *HTTPClient) JsapiPay(ctx context.Context, params *JsapiParams) (*JsapiResponse, error) {
	var resp JsapiResponse
	if err := c.transact(ctx, jsapiPayPath, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.PrepayID) > 0 {
		sd, err := c.signData("prepay_id=", resp.PrepayID)
		if err != nil {
			return nil, err
		}
		resp.SignData = sd
	}
	return &resp, nil
}

// MicroPay creates a mini program order, which rides the jsapi endpoint
func (c *HTTPClient) MicroPay(ctx context.Context, params *MicroParams) (*MicroResponse, error) {
	var resp MicroResponse
	if err := c.transact(ctx, jsapiPayPath, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.PrepayID) > 0 {
		sd, err := c.signData("prepay_id=", resp.PrepayID)
		if err != nil {
			return nil, err
		}
		resp.SignData = sd
	}
	return &resp, nil
}

// AppPay creates an order for a native app, whose payment sheet takes the
// bare prepay id as its package
func (c *HTTPClient) AppPay(ctx context.Context, params *AppParams) (*AppResponse, error) {
	var resp AppResponse
	if err := c.transact(ctx, appPayPath, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.PrepayID) > 0 {
		sd, err := c.signData("", resp.PrepayID)
		if err != nil {
			return nil, err
		}
		resp.SignData = sd
	}
	return &resp, nil
}

// H5Pay creates an order paid through a gateway hosted mobile page
func (c *HTTPClient) H5Pay(ctx context.Context, params *H5Params) (*H5Response, error) {
	var resp H5Response
	if err := c.transact(ctx, h5PayPath, params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refunds requests a refund against a settled transaction
func (c *HTTPClient) Refunds(ctx context.Context, params *RefundsParams) (*RefundsResponse, error) {
	if len(params.TransactionID) == 0 && len(params.OutTradeNo) == 0 {
		return nil, errors.New("refunds require a transaction_id or out_trade_no")
	}
	if _, err := govalidator.ValidateStruct(params); err != nil {
		return nil, errorutils.Wrap(err, "invalid refund params")
	}

	req, err := c.client.NewRequest(ctx, http.MethodPost, refundsPath, params, nil)
	if err != nil {
		return nil, err
	}

	var resp RefundsResponse
	if _, err := c.client.Do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TransferBills pays out to a user. The application id and notification url
// are filled from the client configuration when the params leave them empty,
// and a plaintext payee name is encrypted to the newest platform certificate
// with the certificate serial conveyed alongside the request.
func (c *HTTPClient) TransferBills(ctx context.Context, params *TransferBillsParams) (*TransferBillsResponse, error) {
	if _, err := govalidator.ValidateStruct(params); err != nil {
		return nil, errorutils.Wrap(err, "invalid transfer params")
	}

	p := *params
	if len(p.AppID) == 0 {
		p.AppID = c.appID
	}
	if len(p.NotifyURL) == 0 {
		p.NotifyURL = c.notifyURL
	}

	serial := ""
	if len(p.UserName) > 0 {
		ciphertext, sn, err := c.EncryptSensitiveField(ctx, p.UserName)
		if err != nil {
			return nil, err
		}
		p.UserName = ciphertext
		serial = sn
	}

	req, err := c.client.NewRequest(ctx, http.MethodPost, transferBillsPath, &p, nil)
	if err != nil {
		return nil, err
	}
	if len(serial) > 0 {
		req.Header.Set(httpsignature.SerialHeader, serial)
	}

	var resp TransferBillsResponse
	if _, err := c.client.Do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueryOrderByOutTradeNo looks up an order by the merchant order number
func (c *HTTPClient) QueryOrderByOutTradeNo(ctx context.Context, outTradeNo string) (*Transaction, error) {
	if !IsTradeNo(outTradeNo) {
		return nil, errors.New("invalid out_trade_no")
	}

	var t Transaction
	if err := c.Get(ctx, queryOrderPath+outTradeNo, &queryOrderParams{MchID: c.keys.MchID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Get performs a signed GET against any gateway path, decoding the verified
// response into v. Query endpoints not covered by a dedicated method go
// through here.
func (c *HTTPClient) Get(ctx context.Context, path string, qsb clients.QueryStringBody, v interface{}) error {
	req, err := c.client.NewRequest(ctx, http.MethodGet, path, nil, qsb)
	if err != nil {
		return err
	}
	_, err = c.client.Do(ctx, req, v)
	return err
}

// Certificates forces a refresh of the platform certificate store and
// returns the decrypted set
func (c *HTTPClient) Certificates(ctx context.Context) ([]*certstore.PlatformCertificate, error) {
	if err := c.store.Refresh(ctx); err != nil {
		return nil, err
	}
	return c.store.All(), nil
}

// EncryptSensitiveField protects a request field with the newest platform
// certificate, returning the ciphertext and the serial of the certificate
// used. The serial must travel with the request in the Wechatpay-Serial
// header so the gateway knows which key to decrypt with.
func (c *HTTPClient) EncryptSensitiveField(ctx context.Context, field string) (string, string, error) {
	cert, err := c.store.EncryptionCertificate(ctx)
	if err != nil {
		return "", "", err
	}
	ciphertext, err := cryptography.EncryptOAEP((*rsa.PublicKey)(cert.PublicKey), []byte(field))
	if err != nil {
		return "", "", err
	}
	return ciphertext, cert.SerialNo, nil
}

// DecryptSensitiveField reveals a field encrypted to the merchant certificate
func (c *HTTPClient) DecryptSensitiveField(ctx context.Context, ciphertext string) (string, error) {
	plaintext, err := c.keys.DecryptOAEP(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// WeixinURL loads an H5 payment page and extracts the weixin deep link the
// page hands off to. The gateway only serves pages to requests carrying the
// referer registered for the merchant.
func (c *HTTPClient) WeixinURL(ctx context.Context, h5URL, referer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h5URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Referer", referer)

	resp, err := c.pageClient.Do(req)
	if err != nil {
		return "", err
	}
	defer closers.Panic(ctx, resp.Body)

	page, err := requestutils.Read(ctx, resp.Body)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(page), "\n") {
		if !strings.Contains(line, "weixin://") {
			continue
		}
		for _, field := range strings.Split(line, `"`) {
			if strings.Contains(field, "weixin://") {
				return field, nil
			}
		}
	}
	return "", ErrWeixinURLNotFound
}
