// Package certstore caches the rotating set of platform certificates that
// response and notification signatures are verified against. The cache is
// primed over the certificate download endpoint, whose envelopes are opened
// with the shared symmetric key, and is swapped wholesale on every refresh so
// readers never see a partially applied rotation.
package certstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidepay/wechatpay-go/httpsignature"
)

// PlatformCertificate is one platform public key certificate as opened from
// the certificate download envelope
type PlatformCertificate struct {
	SerialNo  string
	PublicKey *httpsignature.RSAPubKey
	PEM       []byte
	NotBefore time.Time
	NotAfter  time.Time
	FetchedAt time.Time
}

// Active reports whether at falls inside the certificate validity window
func (pc *PlatformCertificate) Active(at time.Time) bool {
	return !at.Before(pc.NotBefore) && at.Before(pc.NotAfter)
}

// FromPEM builds a PlatformCertificate from certificate PEM bytes. A non
// empty serial is checked against the serial inside the certificate, so an
// envelope or snapshot filed under the wrong serial cannot enter the cache
func FromPEM(serial string, pemBytes []byte, fetchedAt time.Time) (*PlatformCertificate, error) {
	cert, pub, err := httpsignature.ParseCertificatePEM(pemBytes)
	if err != nil {
		return nil, err
	}

	certSerial := fmt.Sprintf("%X", cert.SerialNumber)
	if serial == "" {
		serial = certSerial
	} else if !strings.EqualFold(serial, certSerial) {
		return nil, fmt.Errorf("serial %s does not match certificate serial %s", serial, certSerial)
	}

	return &PlatformCertificate{
		SerialNo:  serial,
		PublicKey: pub,
		PEM:       pemBytes,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		FetchedAt: fetchedAt,
	}, nil
}
