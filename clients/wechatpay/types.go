package wechatpay

import (
	"net/url"
	"regexp"

	"github.com/asaskevich/govalidator"
	"github.com/google/go-querystring/query"
)

func init() {
	govalidator.TagMap["tradeno"] = govalidator.Validator(IsTradeNo)
}

var rxTradeNo = regexp.MustCompile(`^[a-zA-Z0-9_\-|*]{6,32}$`)

// IsTradeNo returns true if str is acceptable as a merchant order number
func IsTradeNo(str string) bool {
	return rxTradeNo.MatchString(str)
}

// Amount is an order amount, denominated in fen
type Amount struct {
	Total    int64  `json:"total" valid:"required"`
	Currency string `json:"currency,omitempty" valid:"-"`
}

// Payer identifies the paying user within the merchant application
type Payer struct {
	OpenID string `json:"openid" valid:"required"`
}

// H5Info describes the page handing off to an H5 payment
type H5Info struct {
	Type    string `json:"type" valid:"in(Wap|iOS|Android)"`
	AppName string `json:"app_name,omitempty" valid:"-"`
	AppURL  string `json:"app_url,omitempty" valid:"-"`
}

// SceneInfo carries the payment scene an H5 order originates from
type SceneInfo struct {
	PayerClientIP string  `json:"payer_client_ip" valid:"required"`
	H5Info        *H5Info `json:"h5_info,omitempty" valid:"optional"`
}

// NewH5SceneInfo builds the scene for a Wap handoff page
func NewH5SceneInfo(payerClientIP, appName, appURL string) *SceneInfo {
	return &SceneInfo{
		PayerClientIP: payerClientIP,
		H5Info: &H5Info{
			Type:    "Wap",
			AppName: appName,
			AppURL:  appURL,
		},
	}
}

// NativeParams creates an order paid by scanning a returned code url
type NativeParams struct {
	Description string `json:"description" valid:"required"`
	OutTradeNo  string `json:"out_trade_no" valid:"tradeno,required"`
	TimeExpire  string `json:"time_expire,omitempty" valid:"-"`
	Attach      string `json:"attach,omitempty" valid:"-"`
	Amount      Amount `json:"amount" valid:"required"`
}

// JsapiParams creates an order paid inside the merchant application
type JsapiParams struct {
	Description string `json:"description" valid:"required"`
	OutTradeNo  string `json:"out_trade_no" valid:"tradeno,required"`
	TimeExpire  string `json:"time_expire,omitempty" valid:"-"`
	Attach      string `json:"attach,omitempty" valid:"-"`
	Amount      Amount `json:"amount" valid:"required"`
	Payer       Payer  `json:"payer" valid:"required"`
}

// MicroParams creates an order for the mini program flow
type MicroParams struct {
	Description string `json:"description" valid:"required"`
	OutTradeNo  string `json:"out_trade_no" valid:"tradeno,required"`
	TimeExpire  string `json:"time_expire,omitempty" valid:"-"`
	Attach      string `json:"attach,omitempty" valid:"-"`
	Amount      Amount `json:"amount" valid:"required"`
	Payer       Payer  `json:"payer" valid:"required"`
}

// AppParams creates an order paid from a native app
type AppParams struct {
	Description string `json:"description" valid:"required"`
	OutTradeNo  string `json:"out_trade_no" valid:"tradeno,required"`
	TimeExpire  string `json:"time_expire,omitempty" valid:"-"`
	Attach      string `json:"attach,omitempty" valid:"-"`
	Amount      Amount `json:"amount" valid:"required"`
}

// H5Params creates an order paid through a mobile browser
type H5Params struct {
	Description string     `json:"description" valid:"required"`
	OutTradeNo  string     `json:"out_trade_no" valid:"tradeno,required"`
	Amount      Amount     `json:"amount" valid:"required"`
	SceneInfo   *SceneInfo `json:"scene_info" valid:"required"`
}

// RefundAmount describes how much of an order to refund
type RefundAmount struct {
	Refund   int64  `json:"refund" valid:"required"`
	Total    int64  `json:"total" valid:"required"`
	Currency string `json:"currency" valid:"required"`
}

// RefundsParams requests a refund against a settled transaction, addressed
// by either the gateway transaction id or the merchant order number
type RefundsParams struct {
	TransactionID string       `json:"transaction_id,omitempty" valid:"-"`
	OutTradeNo    string       `json:"out_trade_no,omitempty" valid:"-"`
	OutRefundNo   string       `json:"out_refund_no" valid:"tradeno,required"`
	Reason        string       `json:"reason,omitempty" valid:"-"`
	NotifyURL     string       `json:"notify_url,omitempty" valid:"-"`
	Amount        RefundAmount `json:"amount" valid:"required"`
}

// TransferSceneReportInfo explains a transfer to the payee
type TransferSceneReportInfo struct {
	InfoType    string `json:"info_type" valid:"required"`
	InfoContent string `json:"info_content" valid:"required"`
}

// TransferBillsParams pays out to a user. AppID and NotifyURL are filled
// from the client configuration when left empty. UserName, when present, is
// encrypted to the newest platform certificate before the request is sent.
type TransferBillsParams struct {
	AppID                    string                    `json:"appid,omitempty" valid:"-"`
	OutBillNo                string                    `json:"out_bill_no" valid:"tradeno,required"`
	TransferSceneID          string                    `json:"transfer_scene_id" valid:"required"`
	OpenID                   string                    `json:"openid" valid:"required"`
	UserName                 string                    `json:"user_name,omitempty" valid:"-"`
	TransferAmount           int64                     `json:"transfer_amount" valid:"required"`
	TransferRemark           string                    `json:"transfer_remark" valid:"required"`
	NotifyURL                string                    `json:"notify_url,omitempty" valid:"-"`
	UserRecvPerception       string                    `json:"user_recv_perception,omitempty" valid:"-"`
	TransferSceneReportInfos []TransferSceneReportInfo `json:"transfer_scene_report_infos,omitempty" valid:"-"`
}

// SignData is handed to the JSAPI or APP caller to invoke the payment sheet,
// signed with the merchant key so the gateway can attribute the invocation
type SignData struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// NativeResponse carries the code url rendered as the payment QR code
type NativeResponse struct {
	CodeURL string `json:"code_url"`
}

// JsapiResponse carries the prepay id and the derived payment sheet signature
type JsapiResponse struct {
	PrepayID string    `json:"prepay_id"`
	SignData *SignData `json:"sign_data,omitempty"`
}

// MicroResponse carries the prepay id and the derived payment sheet signature
type MicroResponse struct {
	PrepayID string    `json:"prepay_id"`
	SignData *SignData `json:"sign_data,omitempty"`
}

// AppResponse carries the prepay id and the derived payment sheet signature
type AppResponse struct {
	PrepayID string    `json:"prepay_id"`
	SignData *SignData `json:"sign_data,omitempty"`
}

// H5Response carries the url of the gateway hosted payment page
type H5Response struct {
	H5URL string `json:"h5_url"`
}

// RefundsResponse reports the state of a requested refund
type RefundsResponse struct {
	RefundID            string       `json:"refund_id"`
	OutRefundNo         string       `json:"out_refund_no"`
	TransactionID       string       `json:"transaction_id"`
	OutTradeNo          string       `json:"out_trade_no"`
	Channel             string       `json:"channel"`
	UserReceivedAccount string       `json:"user_received_account"`
	SuccessTime         string       `json:"success_time"`
	CreateTime          string       `json:"create_time"`
	Status              string       `json:"status"`
	FundsAccount        string       `json:"funds_account"`
	Amount              RefundAmount `json:"amount"`
}

// TransferBillsResponse reports the accepted transfer
type TransferBillsResponse struct {
	OutBillNo      string `json:"out_bill_no"`
	TransferBillNo string `json:"transfer_bill_no"`
	CreateTime     string `json:"create_time"`
	State          string `json:"state"`
	PackageInfo    string `json:"package_info"`
}

// TransactionAmount is the settled order amount breakdown
type TransactionAmount struct {
	Total         int64  `json:"total"`
	PayerTotal    int64  `json:"payer_total"`
	Currency      string `json:"currency"`
	PayerCurrency string `json:"payer_currency"`
}

// Transaction is the gateway's view of an order, returned by order queries
// and carried inside payment notifications
type Transaction struct {
	AppID          string             `json:"appid"`
	MchID          string             `json:"mchid"`
	OutTradeNo     string             `json:"out_trade_no"`
	TransactionID  string             `json:"transaction_id"`
	TradeType      string             `json:"trade_type"`
	TradeState     string             `json:"trade_state"`
	TradeStateDesc string             `json:"trade_state_desc"`
	BankType       string             `json:"bank_type"`
	Attach         string             `json:"attach"`
	SuccessTime    string             `json:"success_time"`
	Payer          *Payer             `json:"payer,omitempty"`
	Amount         *TransactionAmount `json:"amount,omitempty"`
}

type queryOrderParams struct {
	MchID string `url:"mchid"`
}

// GenerateQueryString - implement the QueryStringBody interface
func (p *queryOrderParams) GenerateQueryString() (url.Values, error) {
	return query.Values(p)
}
