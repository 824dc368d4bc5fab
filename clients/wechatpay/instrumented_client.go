package wechatpay

// DO NOT EDIT!
// This code is generated with http://github.com/hexdigest/gowrap tool
// using ../../.prom-gowrap.tmpl template

//go:generate gowrap gen -p github.com/tidepay/wechatpay-go/clients/wechatpay -i Client -t ../../.prom-gowrap.tmpl -o instrumented_client.go

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidepay/wechatpay-go/certstore"
	"github.com/tidepay/wechatpay-go/clients"
)

// ClientWithPrometheus implements Client interface with all methods wrapped
// with Prometheus metrics
type ClientWithPrometheus struct {
	base         Client
	instanceName string
}

var clientDurationSummaryVec = promauto.NewSummaryVec(
	prometheus.SummaryOpts{
		Name:       "client_duration_seconds",
		Help:       "client runtime duration and result",
		MaxAge:     time.Minute,
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	},
	[]string{"instance_name", "method", "result"})

// NewClientWithPrometheus returns an instance of the Client decorated with prometheus summary metric
func NewClientWithPrometheus(base Client, instanceName string) ClientWithPrometheus {
	return ClientWithPrometheus{
		base:         base,
		instanceName: instanceName,
	}
}

// AppPay implements Client
func (_d ClientWithPrometheus) AppPay(ctx context.Context, params *AppParams) (ap1 *AppResponse, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "AppPay", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.AppPay(ctx, params)
}

// Certificates implements Client
func (_d ClientWithPrometheus) Certificates(ctx context.Context) (ppa1 []*certstore.PlatformCertificate, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "Certificates", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.Certificates(ctx)
}

// DecryptSensitiveField implements Client
func (_d ClientWithPrometheus) DecryptSensitiveField(ctx context.Context, ciphertext string) (s1 string, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "DecryptSensitiveField", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.DecryptSensitiveField(ctx, ciphertext)
}

// EncryptSensitiveField implements Client
func (_d ClientWithPrometheus) EncryptSensitiveField(ctx context.Context, field string) (s1 string, s2 string, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "EncryptSensitiveField", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.EncryptSensitiveField(ctx, field)
}

// Get implements Client
func (_d ClientWithPrometheus) Get(ctx context.Context, path string, qsb clients.QueryStringBody, v interface{}) (err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "Get", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.Get(ctx, path, qsb, v)
}

// H5Pay implements Client
func (_d ClientWithPrometheus) H5Pay(ctx context.Context, params *H5Params) (hp1 *H5Response, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "H5Pay", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.H5Pay(ctx, params)
}

// HandleNotification implements Client
func (_d ClientWithPrometheus) HandleNotification(ctx context.Context, req *http.Request) (np1 *Notification, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "HandleNotification", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.HandleNotification(ctx, req)
}

// JsapiPay implements Client
func (_d ClientWithPrometheus) JsapiPay(ctx context.Context, params *JsapiParams) (jp1 *JsapiResponse, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "JsapiPay", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.JsapiPay(ctx, params)
}

// MicroPay implements Client
func (_d ClientWithPrometheus) MicroPay(ctx context.Context, params *MicroParams) (mp1 *MicroResponse, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "MicroPay", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.MicroPay(ctx, params)
}

// NativePay implements Client
func (_d ClientWithPrometheus) NativePay(ctx context.Context, params *NativeParams) (np1 *NativeResponse, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "NativePay", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.NativePay(ctx, params)
}

// QueryOrderByOutTradeNo implements Client
func (_d ClientWithPrometheus) QueryOrderByOutTradeNo(ctx context.Context, outTradeNo string) (tp1 *Transaction, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "QueryOrderByOutTradeNo", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.QueryOrderByOutTradeNo(ctx, outTradeNo)
}

// Refunds implements Client
func (_d ClientWithPrometheus) Refunds(ctx context.Context, params *RefundsParams) (rp1 *RefundsResponse, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "Refunds", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.Refunds(ctx, params)
}

// TransferBills implements Client
func (_d ClientWithPrometheus) TransferBills(ctx context.Context, params *TransferBillsParams) (tp1 *TransferBillsResponse, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "TransferBills", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.TransferBills(ctx, params)
}

// WeixinURL implements Client
func (_d ClientWithPrometheus) WeixinURL(ctx context.Context, h5URL string, referer string) (s1 string, err error) {
	_since := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}

		clientDurationSummaryVec.WithLabelValues(_d.instanceName, "WeixinURL", result).Observe(time.Since(_since).Seconds())
	}()
	return _d.base.WeixinURL(ctx, h5URL, referer)
}
