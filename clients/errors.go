package clients

import (
	"fmt"

	errorutils "github.com/tidepay/wechatpay-go/errors"
)

var (
	// ErrUnableToDecode unable to decode body
	ErrUnableToDecode = "unable to decode response"
	// ErrProtocolError the error was within the data that went into the endpoint
	ErrProtocolError = "protocol error"
	// ErrUnableToEscapeURL the url could not be escaped
	ErrUnableToEscapeURL = "unable to escape url"
	// ErrInvalidHost the host was invalid
	ErrInvalidHost = "invalid host"
	// ErrMalformedRequest the request was malformed
	ErrMalformedRequest = "malformed request"
	// ErrUnableToEncodeBody body could not be encoded
	ErrUnableToEncodeBody = "unable to encode body"
	// ErrUnableToSignRequest the outbound request could not be signed
	ErrUnableToSignRequest = "unable to sign request"
)

// HTTPState captures the state of the response to be read by lower fns in the stack
type HTTPState struct {
	Status int
	Path   string
	Body   interface{}
}

// NewHTTPError creates a new errors.ErrorBundle with an HTTPState wrapping the status, path and v.
func NewHTTPError(err error, path, message string, status int, v interface{}) error {
	return errorutils.New(err, message, HTTPState{
		Status: status,
		Path:   path,
		Body:   v,
	})
}

// Error returns the error string
func (wpe *WeChatPayError) Error() string {
	return fmt.Sprintf("code: %s - message: %s - http status: %d", wpe.Code, wpe.Message, wpe.HTTPStatusCode)
}

// WeChatPayError holds error info directly from the gateway
type WeChatPayError struct {
	Code           string      `json:"code"`
	Message        string      `json:"message"`
	Detail         interface{} `json:"detail,omitempty"`
	HTTPStatusCode int         `json:"-"`
}
