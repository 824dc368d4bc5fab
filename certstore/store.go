package certstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidepay/wechatpay-go/clients"
	"github.com/tidepay/wechatpay-go/cryptography"
	errorutils "github.com/tidepay/wechatpay-go/errors"
	"github.com/tidepay/wechatpay-go/httpsignature"
	"github.com/tidepay/wechatpay-go/logging"
	"golang.org/x/sync/singleflight"
)

const (
	certificatesPath  = "/v3/certificates"
	envelopeAlgorithm = "AEAD_AES_256_GCM"
	apiv3KeyLength    = 32
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_certificate_refresh_total",
			Help: "Count of platform certificate refresh attempts partitioned by outcome",
		},
		[]string{"outcome"},
	)
	cachedCertificates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "platform_certificates_cached",
			Help: "Number of platform certificates currently cached",
		},
	)
)

func init() {
	prometheus.MustRegister(refreshTotal)
	prometheus.MustRegister(cachedCertificates)
}

// Store holds the platform certificates currently trusted for verification.
// The set is replaced wholesale on refresh and refreshes are collapsed into a
// single flight, so a burst of verifications hitting an unknown serial costs
// one download
type Store struct {
	client   *clients.SimpleHTTPClient
	apiv3Key []byte

	mu    sync.RWMutex
	certs map[string]*PlatformCertificate

	sf       singleflight.Group
	snapshot SnapshotStore

	now func() time.Time
}

// New returns a Store downloading from serverURL, signing downloads with
// signator and opening envelopes with apiv3Key
func New(serverURL string, signator *httpsignature.ParameterizedSignator, apiv3Key []byte) (*Store, error) {
	// the download client never verifies responses, the certificates it is
	// fetching are the only verification anchor there is
	client, err := clients.New(serverURL, signator, nil)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, apiv3Key)
}

// NewWithClient returns a Store downloading through client, which must not
// have a response verifier attached
func NewWithClient(client *clients.SimpleHTTPClient, apiv3Key []byte) (*Store, error) {
	if len(apiv3Key) != apiv3KeyLength {
		return nil, fmt.Errorf("apiv3 key must be %d bytes, got %d", apiv3KeyLength, len(apiv3Key))
	}
	return &Store{
		client:   client,
		apiv3Key: apiv3Key,
		certs:    map[string]*PlatformCertificate{},
		now:      time.Now,
	}, nil
}

// UseSnapshot attaches a persistent snapshot the store saves every refreshed
// set to and Bootstrap prefers over a cold download
func (s *Store) UseSnapshot(snapshot SnapshotStore) {
	s.snapshot = snapshot
}

type certificatesResponse struct {
	Data []certificateEntry `json:"data"`
}

type certificateEntry struct {
	SerialNo           string             `json:"serial_no"`
	EffectiveTime      time.Time          `json:"effective_time"`
	ExpireTime         time.Time          `json:"expire_time"`
	EncryptCertificate encryptCertificate `json:"encrypt_certificate"`
}

type encryptCertificate struct {
	Algorithm      string `json:"algorithm"`
	Nonce          string `json:"nonce"`
	AssociatedData string `json:"associated_data"`
	Ciphertext     string `json:"ciphertext"`
}

// decrypt opens the certificate envelope and parses what is inside
func (e *certificateEntry) decrypt(apiv3Key []byte, fetchedAt time.Time) (*PlatformCertificate, error) {
	if e.EncryptCertificate.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("unsupported certificate envelope algorithm %q", e.EncryptCertificate.Algorithm)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(e.EncryptCertificate.Ciphertext)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to decode certificate envelope")
	}

	pemBytes, err := cryptography.DecryptEnvelope(
		apiv3Key,
		[]byte(e.EncryptCertificate.Nonce),
		[]byte(e.EncryptCertificate.AssociatedData),
		ciphertext,
	)
	if err != nil {
		return nil, err
	}

	return FromPEM(e.SerialNo, pemBytes, fetchedAt)
}

// Refresh downloads the current certificate set and swaps it in wholesale.
// Failure of any kind leaves the previous set untouched. Concurrent callers
// share one download
func (s *Store) Refresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (interface{}, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Store) refresh(ctx context.Context) error {
	logger := logging.Logger(ctx, "certstore")

	req, err := s.client.NewRequest(ctx, "GET", certificatesPath, nil, nil)
	if err != nil {
		refreshTotal.WithLabelValues("request_error").Inc()
		return err
	}

	var res certificatesResponse
	if _, err := s.client.Do(ctx, req, &res); err != nil {
		refreshTotal.WithLabelValues("fetch_error").Inc()
		return errorutils.Wrap(err, "failed to download platform certificates")
	}

	fetchedAt := s.now()
	next := make(map[string]*PlatformCertificate, len(res.Data))
	for i := range res.Data {
		cert, err := res.Data[i].decrypt(s.apiv3Key, fetchedAt)
		if err != nil {
			refreshTotal.WithLabelValues("decrypt_error").Inc()
			return errorutils.Wrap(err, fmt.Sprintf("failed to open certificate envelope %s", res.Data[i].SerialNo))
		}
		next[cert.SerialNo] = cert
	}
	if len(next) == 0 {
		refreshTotal.WithLabelValues("empty").Inc()
		return errorutils.New(nil, "certificate download contained no certificates", nil)
	}

	s.swap(next)
	refreshTotal.WithLabelValues("ok").Inc()
	logger.Info().Int("count", len(next)).Strs("serials", s.Serials()).Msg("platform certificates refreshed")

	if s.snapshot != nil {
		// the snapshot is a warm start optimization, a failed save must not
		// fail the refresh
		if err := s.snapshot.Save(ctx, pemSet(next)); err != nil {
			logger.Warn().Err(err).Msg("failed to save certificate snapshot")
		}
	}
	return nil
}

func (s *Store) swap(next map[string]*PlatformCertificate) {
	s.mu.Lock()
	s.certs = next
	s.mu.Unlock()
	cachedCertificates.Set(float64(len(next)))
}

// Bootstrap primes the store, preferring the snapshot when it holds usable
// certificates and falling back to a download
func (s *Store) Bootstrap(ctx context.Context) error {
	logger := logging.Logger(ctx, "certstore")

	if s.snapshot != nil {
		pems, err := s.snapshot.Load(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load certificate snapshot")
		}

		loadedAt := s.now()
		next := make(map[string]*PlatformCertificate, len(pems))
		for serial, pemBytes := range pems {
			cert, err := FromPEM(serial, []byte(pemBytes), loadedAt)
			if err != nil {
				logger.Warn().Err(err).Str("serial", serial).Msg("discarding unparseable snapshot certificate")
				continue
			}
			// snapshots are never trusted blindly, stale windows are dropped
			if !cert.Active(loadedAt) {
				logger.Warn().Str("serial", serial).Time("not_after", cert.NotAfter).Msg("discarding snapshot certificate outside validity window")
				continue
			}
			next[serial] = cert
		}
		if len(next) > 0 {
			s.swap(next)
			logger.Info().Int("count", len(next)).Msg("platform certificates loaded from snapshot")
			return nil
		}
	}

	return s.Refresh(ctx)
}

// Get returns the certificate for serial if it is known and inside its
// validity window
func (s *Store) Get(serial string) (*PlatformCertificate, error) {
	s.mu.RLock()
	cert, ok := s.certs[serial]
	s.mu.RUnlock()

	if !ok {
		return nil, errorutils.ErrCertificateUnknown
	}
	if !cert.Active(s.now()) {
		return nil, errorutils.ErrCertificateExpired
	}
	return cert, nil
}

// Serials lists the cached certificate serials in stable order
func (s *Store) Serials() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	serials := make([]string, 0, len(s.certs))
	for serial := range s.certs {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	return serials
}

// All returns the cached certificates in serial order
func (s *Store) All() []*PlatformCertificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	certs := make([]*PlatformCertificate, 0, len(s.certs))
	for _, cert := range s.certs {
		certs = append(certs, cert)
	}
	sort.Slice(certs, func(i, j int) bool { return certs[i].SerialNo < certs[j].SerialNo })
	return certs
}

// Newest returns the most recently issued certificate inside its validity
// window, the one sensitive fields should be encrypted to
func (s *Store) Newest() (*PlatformCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var newest *PlatformCertificate
	for _, cert := range s.certs {
		if !cert.Active(now) {
			continue
		}
		if newest == nil || cert.NotBefore.After(newest.NotBefore) {
			newest = cert
		}
	}
	if newest == nil {
		return nil, errorutils.ErrCertificateUnknown
	}
	return newest, nil
}

// EncryptionCertificate is Newest with one refresh attempt when the cache
// holds nothing usable
func (s *Store) EncryptionCertificate(ctx context.Context) (*PlatformCertificate, error) {
	cert, err := s.Newest()
	if err == nil {
		return cert, nil
	}
	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		return nil, errorutils.Wrap(refreshErr, "failed to refresh certificates for encryption")
	}
	return s.Newest()
}

// LookupVerifier implements httpsignature.Keystore over the cached set. An
// unknown or out of window serial triggers one refresh, since during a
// rotation the platform signs with certificates newer than any cache. After
// that single retry the failure is returned as is, verification never falls
// back to a weaker check
func (s *Store) LookupVerifier(ctx context.Context, serial string) (context.Context, *httpsignature.Verifier, error) {
	cert, err := s.Get(serial)
	if err != nil {
		if refreshErr := s.Refresh(ctx); refreshErr != nil {
			return nil, nil, errorutils.Wrap(refreshErr, "failed to refresh certificates for verification")
		}
		cert, err = s.Get(serial)
		if err != nil {
			return nil, nil, err
		}
	}

	var verifier httpsignature.Verifier = cert.PublicKey
	return ctx, &verifier, nil
}

// RunRefresher refreshes the certificate set every interval until ctx is
// done. Failures are logged and retried at the next tick, the cache keeps
// serving the previous set in the meantime
func (s *Store) RunRefresher(ctx context.Context, interval time.Duration) {
	logger := logging.Logger(ctx, "certstore")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduled certificate refresh failed")
			}
		}
	}
}

func pemSet(certs map[string]*PlatformCertificate) map[string]string {
	pems := make(map[string]string, len(certs))
	for serial, cert := range certs {
		pems[serial] = string(cert.PEM)
	}
	return pems
}
