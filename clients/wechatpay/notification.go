package wechatpay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidepay/wechatpay-go/cryptography"
	errorutils "github.com/tidepay/wechatpay-go/errors"
	"github.com/tidepay/wechatpay-go/requestutils"
)

// envelopeAlgorithm is the only resource encryption the gateway sends
const envelopeAlgorithm = "AEAD_AES_256_GCM"

// NotificationResource is the encrypted payload of a webhook delivery
type NotificationResource struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	AssociatedData string `json:"associated_data"`
	OriginalType   string `json:"original_type"`
	Nonce          string `json:"nonce"`

	// Plaintext holds the opened resource once the envelope has been decrypted
	Plaintext []byte `json:"-"`
}

// Notification is a webhook delivery from the gateway
type Notification struct {
	ID           string               `json:"id"`
	CreateTime   time.Time            `json:"create_time"`
	EventType    string               `json:"event_type"`
	ResourceType string               `json:"resource_type"`
	Summary      string               `json:"summary"`
	Resource     NotificationResource `json:"resource"`
}

// open decrypts the resource envelope with the merchant APIv3 key
func (n *Notification) open(apiv3Key []byte) error {
	if n.Resource.Algorithm != envelopeAlgorithm {
		return fmt.Errorf("unsupported resource algorithm %q", n.Resource.Algorithm)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(n.Resource.Ciphertext)
	if err != nil {
		return errorutils.Wrap(err, "resource ciphertext is not base64")
	}
	plaintext, err := cryptography.DecryptEnvelope(apiv3Key, []byte(n.Resource.Nonce), []byte(n.Resource.AssociatedData), ciphertext)
	if err != nil {
		return err
	}
	n.Resource.Plaintext = plaintext
	return nil
}

// Transaction decodes the opened resource as a payment transaction
func (n *Notification) Transaction() (*Transaction, error) {
	if n.Resource.Plaintext == nil {
		return nil, errors.New("notification resource has not been opened")
	}
	var t Transaction
	if err := json.Unmarshal(n.Resource.Plaintext, &t); err != nil {
		return nil, errorutils.Wrap(err, "notification resource is not a transaction")
	}
	return &t, nil
}

// HandleNotification authenticates a webhook delivery against the platform
// certificate store and opens its encrypted resource with the APIv3 key.
// The request body is left readable for any downstream handler. Nothing of
// the notification is trusted until its signature has verified.
func (c *HTTPClient) HandleNotification(ctx context.Context, req *http.Request) (*Notification, error) {
	if _, _, err := c.verifier.VerifyRequest(req); err != nil {
		return nil, err
	}

	body, err := requestutils.Read(ctx, req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewBuffer(body))

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, errorutils.Wrap(err, "failed to decode notification")
	}

	if err := n.open(c.keys.apiv3Key); err != nil {
		return nil, err
	}
	return &n, nil
}
