package wechatpay

import (
	"context"
	"net/http"

	"github.com/tidepay/wechatpay-go/certstore"
	"github.com/tidepay/wechatpay-go/clients"
)

// MockClient is a hand rolled Client double for consumer tests. Methods
// whose Fn field is unset return an empty response.
type MockClient struct {
	FnNativePay              func(ctx context.Context, params *NativeParams) (*NativeResponse, error)
	FnJsapiPay               func(ctx context.Context, params *JsapiParams) (*JsapiResponse, error)
	FnMicroPay               func(ctx context.Context, params *MicroParams) (*MicroResponse, error)
	FnAppPay                 func(ctx context.Context, params *AppParams) (*AppResponse, error)
	FnH5Pay                  func(ctx context.Context, params *H5Params) (*H5Response, error)
	FnRefunds                func(ctx context.Context, params *RefundsParams) (*RefundsResponse, error)
	FnTransferBills          func(ctx context.Context, params *TransferBillsParams) (*TransferBillsResponse, error)
	FnQueryOrderByOutTradeNo func(ctx context.Context, outTradeNo string) (*Transaction, error)
	FnGet                    func(ctx context.Context, path string, qsb clients.QueryStringBody, v interface{}) error
	FnCertificates           func(ctx context.Context) ([]*certstore.PlatformCertificate, error)
	FnHandleNotification     func(ctx context.Context, req *http.Request) (*Notification, error)
	FnEncryptSensitiveField  func(ctx context.Context, field string) (string, string, error)
	FnDecryptSensitiveField  func(ctx context.Context, ciphertext string) (string, error)
	FnWeixinURL              func(ctx context.Context, h5URL, referer string) (string, error)
}

// NativePay implements Client
func (c *MockClient) NativePay(ctx context.Context, params *NativeParams) (*NativeResponse, error) {
	if c.FnNativePay == nil {
		return &NativeResponse{}, nil
	}
	return c.FnNativePay(ctx, params)
}

// JsapiPay implements Client
func (c *MockClient) JsapiPay(ctx context.Context, params *JsapiParams) (*JsapiResponse, error) {
	if c.FnJsapiPay == nil {
		return &JsapiResponse{}, nil
	}
	return c.FnJsapiPay(ctx, params)
}

// MicroPay implements Client
func (c *MockClient) MicroPay(ctx context.Context, params *MicroParams) (*MicroResponse, error) {
	if c.FnMicroPay == nil {
		return &MicroResponse{}, nil
	}
	return c.FnMicroPay(ctx, params)
}

// AppPay implements Client
func (c *MockClient) AppPay(ctx context.Context, params *AppParams) (*AppResponse, error) {
	if c.FnAppPay == nil {
		return &AppResponse{}, nil
	}
	return c.FnAppPay(ctx, params)
}

// H5Pay implements Client
func (c *MockClient) H5Pay(ctx context.Context, params *H5Params) (*H5Response, error) {
	if c.FnH5Pay == nil {
		return &H5Response{}, nil
	}
	return c.FnH5Pay(ctx, params)
}

// Refunds implements Client
func (c *MockClient) Refunds(ctx context.Context, params *RefundsParams) (*RefundsResponse, error) {
	if c.FnRefunds == nil {
		return &RefundsResponse{}, nil
	}
	return c.FnRefunds(ctx, params)
}

// TransferBills implements Client
func (c *MockClient) TransferBills(ctx context.Context, params *TransferBillsParams) (*TransferBillsResponse, error) {
	if c.FnTransferBills == nil {
		return &TransferBillsResponse{}, nil
	}
	return c.FnTransferBills(ctx, params)
}

// QueryOrderByOutTradeNo implements Client
func (c *MockClient) QueryOrderByOutTradeNo(ctx context.Context, outTradeNo string) (*Transaction, error) {
	if c.FnQueryOrderByOutTradeNo == nil {
		return &Transaction{}, nil
	}
	return c.FnQueryOrderByOutTradeNo(ctx, outTradeNo)
}

// Get implements Client
func (c *MockClient) Get(ctx context.Context, path string, qsb clients.QueryStringBody, v interface{}) error {
	if c.FnGet == nil {
		return nil
	}
	return c.FnGet(ctx, path, qsb, v)
}

// Certificates implements Client
func (c *MockClient) Certificates(ctx context.Context) ([]*certstore.PlatformCertificate, error) {
	if c.FnCertificates == nil {
		return nil, nil
	}
	return c.FnCertificates(ctx)
}

// HandleNotification implements Client
func (c *MockClient) HandleNotification(ctx context.Context, req *http.Request) (*Notification, error) {
	if c.FnHandleNotification == nil {
		return &Notification{}, nil
	}
	return c.FnHandleNotification(ctx, req)
}

// EncryptSensitiveField implements Client
func (c *MockClient) EncryptSensitiveField(ctx context.Context, field string) (string, string, error) {
	if c.FnEncryptSensitiveField == nil {
		return "", "", nil
	}
	return c.FnEncryptSensitiveField(ctx, field)
}

// DecryptSensitiveField implements Client
func (c *MockClient) DecryptSensitiveField(ctx context.Context, ciphertext string) (string, error) {
	if c.FnDecryptSensitiveField == nil {
		return "", nil
	}
	return c.FnDecryptSensitiveField(ctx, ciphertext)
}

// WeixinURL implements Client
func (c *MockClient) WeixinURL(ctx context.Context, h5URL, referer string) (string, error) {
	if c.FnWeixinURL == nil {
		return "", nil
	}
	return c.FnWeixinURL(ctx, h5URL, referer)
}
