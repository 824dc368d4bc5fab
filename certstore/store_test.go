package certstore

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidepay/wechatpay-go/cryptography"
	errorutils "github.com/tidepay/wechatpay-go/errors"
	"github.com/tidepay/wechatpay-go/httpsignature"
)

func apiv3TestKey(t *testing.T) []byte {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

// platformIdentity is a platform signing key with its self signed certificate
type platformIdentity struct {
	key       *rsa.PrivateKey
	serial    string
	pem       []byte
	notBefore time.Time
	notAfter  time.Time
}

func newPlatformIdentity(t *testing.T, serialNum int64, notBefore, notAfter time.Time) *platformIdentity {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(serialNum),
		Subject:      pkix.Name{CommonName: "WeChat Pay Platform"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return &platformIdentity{
		key:       key,
		serial:    fmt.Sprintf("%X", template.SerialNumber),
		pem:       pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		notBefore: notBefore,
		notAfter:  notAfter,
	}
}

// entry seals the certificate the way the download endpoint delivers it
func (p *platformIdentity) entry(t *testing.T, apiv3Key []byte) certificateEntry {
	ciphertext, nonce, err := cryptography.EncryptEnvelope(apiv3Key, []byte("certificate"), p.pem)
	require.NoError(t, err)

	return certificateEntry{
		SerialNo:      p.serial,
		EffectiveTime: p.notBefore,
		ExpireTime:    p.notAfter,
		EncryptCertificate: encryptCertificate{
			Algorithm:      envelopeAlgorithm,
			Nonce:          string(nonce),
			AssociatedData: "certificate",
			Ciphertext:     base64.StdEncoding.EncodeToString(ciphertext),
		},
	}
}

// fakePlatform serves the certificate download endpoint
type fakePlatform struct {
	t           *testing.T
	apiv3Key    []byte
	merchantPub httpsignature.Verifier
	delay       time.Duration

	mu         sync.Mutex
	identities []*platformIdentity
	failing    bool
	hits       int32
}

func (f *fakePlatform) rotate(identities ...*platformIdentity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities = identities
}

func (f *fakePlatform) fail(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakePlatform) downloads() int32 {
	return atomic.LoadInt32(&f.hits)
}

func (f *fakePlatform) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.hits, 1)
		if f.delay > 0 {
			time.Sleep(f.delay)
		}

		assert.Equal(f.t, "GET", r.Method)
		assert.Equal(f.t, certificatesPath, r.URL.Path)

		if f.merchantPub != nil {
			sig, err := httpsignature.SignatureFromRequest(r)
			if assert.NoError(f.t, err, "download must carry a parseable authorization header") {
				signingString, err := sig.BuildSigningString(r)
				assert.NoError(f.t, err)
				raw, err := base64.StdEncoding.DecodeString(sig.Sig)
				assert.NoError(f.t, err)
				valid, err := f.merchantPub.Verify(signingString, raw, crypto.SHA256)
				assert.NoError(f.t, err)
				assert.True(f.t, valid, "download must be signed by the merchant key")
			}
		}

		f.mu.Lock()
		failing := f.failing
		identities := f.identities
		f.mu.Unlock()

		if failing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":"SYSTEM_ERROR","message":"system busy, try later"}`))
			return
		}

		var res certificatesResponse
		for _, identity := range identities {
			res.Data = append(res.Data, identity.entry(f.t, f.apiv3Key))
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			f.t.Error(err)
		}
	})
}

func merchantSignator(t *testing.T) (*httpsignature.ParameterizedSignator, httpsignature.Verifier) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv := (*httpsignature.RSAPrivKey)(key)

	signator := httpsignature.NewParameterizedSignator(httpsignature.SignatureParams{
		Algorithm:  httpsignature.WECHATPAY2SHA256RSA2048,
		MerchantID: "1900009191",
		SerialNo:   "1DDE55AD98ED71D6EDD4A4A16996DE7B47773A8C",
	}, priv)
	return signator, priv.Public()
}

func TestStoreRefreshAndGet(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	identity := newPlatformIdentity(t, 0x5157F09B65, now.Add(-time.Hour), now.Add(time.Hour))

	signator, merchantPub := merchantSignator(t)
	platform := &fakePlatform{t: t, apiv3Key: apiv3Key, merchantPub: merchantPub}
	platform.rotate(identity)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, signator, apiv3Key)
	require.NoError(t, err)

	_, err = store.Get(identity.serial)
	assert.ErrorIs(t, err, errorutils.ErrCertificateUnknown, "nothing is trusted before the first download")

	require.NoError(t, store.Refresh(context.Background()))

	cert, err := store.Get(identity.serial)
	require.NoError(t, err)
	assert.Equal(t, identity.serial, cert.SerialNo)
	assert.Equal(t, []string{identity.serial}, store.Serials())

	// the cached key must verify signatures made by the platform key
	message := []byte("1554208460\nnonce\nbody\n")
	sig, err := (*httpsignature.RSAPrivKey)(identity.key).Sign(rand.Reader, message, crypto.SHA256)
	require.NoError(t, err)
	valid, err := cert.PublicKey.Verify(message, sig, crypto.SHA256)
	require.NoError(t, err)
	assert.True(t, valid)

	_, err = store.Get("0123456789ABCDEF")
	assert.ErrorIs(t, err, errorutils.ErrCertificateUnknown)
}

func TestStoreGetOutsideWindow(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	identity := newPlatformIdentity(t, 0x11AA, now.Add(-time.Hour), now.Add(time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key}
	platform.rotate(identity)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)
	require.NoError(t, store.Refresh(context.Background()))

	_, err = store.Get(identity.serial)
	assert.NoError(t, err)

	// wind the clock past the certificate window
	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = store.Get(identity.serial)
	assert.ErrorIs(t, err, errorutils.ErrCertificateExpired)

	// and before it
	store.now = func() time.Time { return now.Add(-2 * time.Hour) }
	_, err = store.Get(identity.serial)
	assert.ErrorIs(t, err, errorutils.ErrCertificateExpired)
}

func TestStoreLookupVerifierRotation(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	older := newPlatformIdentity(t, 0x2001, now.Add(-2*time.Hour), now.Add(time.Hour))
	newer := newPlatformIdentity(t, 0x2002, now.Add(-time.Hour), now.Add(2*time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key}
	platform.rotate(older)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)
	require.NoError(t, store.Refresh(context.Background()))
	require.Equal(t, int32(1), platform.downloads())

	// a known serial resolves without a download
	_, verifier, err := store.LookupVerifier(context.Background(), older.serial)
	require.NoError(t, err)
	require.NotNil(t, verifier)
	assert.Equal(t, int32(1), platform.downloads())

	// the platform rotates, signing with a certificate we have never seen
	platform.rotate(older, newer)
	_, verifier, err = store.LookupVerifier(context.Background(), newer.serial)
	require.NoError(t, err)
	require.NotNil(t, verifier)
	assert.Equal(t, int32(2), platform.downloads(), "unknown serial should trigger exactly one refresh")

	// a serial the platform never serves fails after the single retry
	_, _, err = store.LookupVerifier(context.Background(), "FFFF")
	assert.ErrorIs(t, err, errorutils.ErrCertificateUnknown)
	assert.Equal(t, int32(3), platform.downloads())
}

func TestStoreFailedRefreshRetainsCache(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	identity := newPlatformIdentity(t, 0x3001, now.Add(-time.Hour), now.Add(time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key}
	platform.rotate(identity)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)
	require.NoError(t, store.Refresh(context.Background()))

	platform.fail(true)
	err = store.Refresh(context.Background())
	require.Error(t, err)
	var bundle *errorutils.ErrorBundle
	assert.True(t, errors.As(err, &bundle), "refresh failures surface as error bundles")

	// the previously downloaded set keeps verifying
	cert, err := store.Get(identity.serial)
	require.NoError(t, err)
	assert.Equal(t, identity.serial, cert.SerialNo)
}

func TestStoreRefreshTamperedEnvelope(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	identity := newPlatformIdentity(t, 0x3002, now.Add(-time.Hour), now.Add(time.Hour))

	// the platform envelope is opened with a different key than it was
	// sealed with, which must read as tampering
	platform := &fakePlatform{t: t, apiv3Key: apiv3TestKey(t)}
	platform.rotate(identity)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)

	err = store.Refresh(context.Background())
	assert.ErrorIs(t, err, cryptography.ErrAuthenticationFailed)
	assert.Empty(t, store.Serials())
}

func TestStoreRefreshEmptyDownload(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	identity := newPlatformIdentity(t, 0x3003, now.Add(-time.Hour), now.Add(time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key}
	platform.rotate(identity)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)
	require.NoError(t, store.Refresh(context.Background()))

	platform.rotate()
	err = store.Refresh(context.Background())
	require.Error(t, err, "an empty certificate set is a failure, not a wipe")

	_, err = store.Get(identity.serial)
	assert.NoError(t, err)
}

func TestStoreConcurrentRefreshSharesDownload(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	identity := newPlatformIdentity(t, 0x4001, now.Add(-time.Hour), now.Add(time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key, delay: 50 * time.Millisecond}
	platform.rotate(identity)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, store.Refresh(context.Background()))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), platform.downloads(), "concurrent refreshes should share one download")
}

// memorySnapshot is an in memory SnapshotStore for tests
type memorySnapshot struct {
	mu   sync.Mutex
	pems map[string]string
}

func (m *memorySnapshot) Save(ctx context.Context, pems map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pems = pems
	return nil
}

func (m *memorySnapshot) Load(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.pems))
	for k, v := range m.pems {
		out[k] = v
	}
	return out, nil
}

func TestStoreBootstrapPrefersSnapshot(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	identity := newPlatformIdentity(t, 0x5001, now.Add(-time.Hour), now.Add(time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key}
	platform.rotate(identity)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)
	store.UseSnapshot(&memorySnapshot{pems: map[string]string{identity.serial: string(identity.pem)}})

	require.NoError(t, store.Bootstrap(context.Background()))
	assert.Equal(t, int32(0), platform.downloads(), "a usable snapshot should make the cold download unnecessary")

	cert, err := store.Get(identity.serial)
	require.NoError(t, err)
	assert.Equal(t, identity.serial, cert.SerialNo)
}

func TestStoreBootstrapRejectsStaleSnapshot(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	expired := newPlatformIdentity(t, 0x5002, now.Add(-2*time.Hour), now.Add(-time.Hour))
	current := newPlatformIdentity(t, 0x5003, now.Add(-time.Hour), now.Add(time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key}
	platform.rotate(current)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)
	snapshot := &memorySnapshot{pems: map[string]string{expired.serial: string(expired.pem)}}
	store.UseSnapshot(snapshot)

	require.NoError(t, store.Bootstrap(context.Background()))
	assert.Equal(t, int32(1), platform.downloads(), "a stale snapshot should fall through to a download")

	_, err = store.Get(expired.serial)
	assert.Error(t, err)
	_, err = store.Get(current.serial)
	assert.NoError(t, err)

	// the refresh should have replaced the stale snapshot
	pems, err := snapshot.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{current.serial: string(current.pem)}, pems)
}

func TestStoreNewest(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	older := newPlatformIdentity(t, 0x6001, now.Add(-3*time.Hour), now.Add(time.Hour))
	newer := newPlatformIdentity(t, 0x6002, now.Add(-time.Hour), now.Add(3*time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key}
	platform.rotate(older, newer)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)

	_, err = store.Newest()
	assert.Error(t, err, "an empty cache has no encryption certificate")

	// EncryptionCertificate fills the cache on demand
	cert, err := store.EncryptionCertificate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newer.serial, cert.SerialNo, "fields encrypt to the most recently issued certificate")
	assert.Len(t, store.All(), 2)
}

func TestRedisSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	snapshot := NewRedisSnapshot(client, "")

	ctx := context.Background()

	pems, err := snapshot.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, pems)

	first := map[string]string{
		"AAAA": "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n",
		"BBBB": "-----BEGIN CERTIFICATE-----\nBBBB\n-----END CERTIFICATE-----\n",
	}
	require.NoError(t, snapshot.Save(ctx, first))

	pems, err = snapshot.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, pems)

	// a save after rotation must drop serials no longer served
	second := map[string]string{
		"BBBB": first["BBBB"],
	}
	require.NoError(t, snapshot.Save(ctx, second))

	pems, err = snapshot.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, pems)
}

func TestStoreBootstrapWithRedisSnapshot(t *testing.T) {
	apiv3Key := apiv3TestKey(t)
	now := time.Now()
	identity := newPlatformIdentity(t, 0x7001, now.Add(-time.Hour), now.Add(time.Hour))

	platform := &fakePlatform{t: t, apiv3Key: apiv3Key}
	platform.rotate(identity)
	server := httptest.NewServer(platform.handler())
	defer server.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	// first process boots cold and persists what it downloaded
	store, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)
	store.UseSnapshot(NewRedisSnapshot(client, ""))
	require.NoError(t, store.Bootstrap(context.Background()))
	require.Equal(t, int32(1), platform.downloads())

	// second process warm starts from redis without a download
	restarted, err := New(server.URL, nil, apiv3Key)
	require.NoError(t, err)
	restarted.UseSnapshot(NewRedisSnapshot(client, ""))
	require.NoError(t, restarted.Bootstrap(context.Background()))
	assert.Equal(t, int32(1), platform.downloads())

	_, err = restarted.Get(identity.serial)
	assert.NoError(t, err)
}
