package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidepay/wechatpay-go/httpsignature"
	"github.com/tidepay/wechatpay-go/logging"
)

var errMissingSignature = errors.New("missing platform signature")

type notificationSerial struct{}

// AddSerial - helpful for test cases
func AddSerial(ctx context.Context, serial string) context.Context {
	return context.WithValue(ctx, notificationSerial{}, serial)
}

// GetSerial retrieves the platform certificate serial that verified the
// notification from the context
func GetSerial(ctx context.Context) (string, error) {
	serial, ok := ctx.Value(notificationSerial{}).(string)
	if !ok {
		return "", errors.New("serial was missing from context")
	}
	return serial, nil
}

// NotificationReply is the fixed json shape the platform expects back from a
// notification url, both for acknowledgement and for failure
type NotificationReply struct {
	Code           string `json:"code"`
	Message        string `json:"message,omitempty"`
	HTTPStatusCode int    `json:"-"`
}

// ServeHTTP responds with the reply in the protocol shape
func (e *NotificationReply) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(e.HTTPStatusCode)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		panic(err)
	}
}

// ReplyFail builds the failure reply the platform retries on
func ReplyFail(message string, status int) *NotificationReply {
	return &NotificationReply{
		Code:           "FAIL",
		Message:        message,
		HTTPStatusCode: status,
	}
}

// VerifiedNotificationsOnly is a middleware that requires an inbound payment
// notification to carry a valid platform signature before the handler runs.
// The serial of the certificate that verified it is placed in the request
// context. Unverifiable notifications are refused in the protocol error shape
// so the platform will redeliver later rather than mark the url dead.
func VerifiedNotificationsOnly(verifier *httpsignature.ParameterizedKeystoreVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.Logger(r.Context(), "VerifiedNotificationsOnly")

			if len(r.Header.Get(httpsignature.SignatureHeader)) == 0 {
				logger.Warn().Err(errMissingSignature).Msg("signature must be present for notification middleware")
				ReplyFail("signature must be present", http.StatusUnauthorized).ServeHTTP(w, r)
				return
			}

			ctx, serial, err := verifier.VerifyRequest(r)

			if err != nil {
				logger.Error().Err(err).Msg("failed to verify notification")
				ReplyFail("notification signature verification failure", http.StatusForbidden).ServeHTTP(w, r)
				return
			}

			ctx = context.WithValue(ctx, notificationSerial{}, serial)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
