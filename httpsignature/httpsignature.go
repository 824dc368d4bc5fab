// Package httpsignature contains methods for signing and verifing HTTP
// requests and responses per the WeChat Pay v3 signature scheme
// (WECHATPAY2-SHA256-RSA2048)
package httpsignature

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidepay/wechatpay-go/requestutils"
)

// SignatureParams contains parameters needed to create and verify signatures
type SignatureParams struct {
	Algorithm  Algorithm
	MerchantID string // mchid the request is made on behalf of
	SerialNo   string // serial of the merchant certificate the key belongs to
}

// Signature is a signature and the parameters it was produced with, the
// parsed form of a merchant Authorization header
type Signature struct {
	SignatureParams
	Timestamp string
	Nonce     string
	Sig       string
}

// Signator is an interface for cryptographic signature creation
// NOTE that this is a subset of the crypto.Signer interface
type Signator interface {
	Sign(rand io.Reader, message []byte, opts crypto.SignerOpts) (signature []byte, err error)
}

// Verifier is an interface for cryptographic signature verification
type Verifier interface {
	Verify(message, sig []byte, opts crypto.SignerOpts) (bool, error)
	String() string
}

// Keystore provides a way to lookup a public key based on the serial a response was signed with
type Keystore interface {
	// LookupVerifier based on the serial
	LookupVerifier(ctx context.Context, serial string) (context.Context, *Verifier, error)
}

// StaticKeystore is a keystore that always returns a static verifier independent of serial
type StaticKeystore struct {
	Verifier
}

// ParameterizedSignator contains the parameters / options needed to create signatures and a signator
type ParameterizedSignator struct {
	SignatureParams
	Signator Signator
	Opts     crypto.SignerOpts
	now      func() time.Time
	rand     io.Reader
}

// ParameterizedKeystoreVerifier verifies signed platform payloads against
// keys looked up by serial, rejecting signatures outside the timestamp tolerance
type ParameterizedKeystoreVerifier struct {
	Keystore  Keystore
	Opts      crypto.SignerOpts
	Tolerance time.Duration
	now       func() time.Time
}

// ResponseSignatureParams are the verification inputs conveyed in the headers
// of a platform response or notification delivery
type ResponseSignatureParams struct {
	Timestamp string
	Nonce     string
	SerialNo  string
	Sig       string
}

const (
	// TimestampHeader conveys the epoch second the payload was signed at
	TimestampHeader = "Wechatpay-Timestamp"
	// NonceHeader conveys the nonce covered by the payload signature
	NonceHeader = "Wechatpay-Nonce"
	// SerialHeader conveys the platform certificate serial that signed the payload
	SerialHeader = "Wechatpay-Serial"
	// SignatureHeader conveys the base64 encoded payload signature
	SignatureHeader = "Wechatpay-Signature"

	// NonceLength is the length of generated nonce_str values
	NonceLength = 32

	// DefaultTolerance is the widest acceptable clock gap between the
	// signing timestamp of a payload and the local clock
	DefaultTolerance = 5 * time.Minute
)

var (
	// ErrSigningFailed - the outbound request could not be signed, fatal for the request
	ErrSigningFailed = errors.New("failed to sign request")
	// ErrMalformedResponse - the payload is missing or carries unusable signature headers
	ErrMalformedResponse = errors.New("malformed signature headers")
	// ErrStaleTimestamp - the payload signing timestamp is outside the verifier tolerance
	ErrStaleTimestamp = errors.New("signature timestamp outside tolerance")
	// ErrSignatureMismatch - the signature does not verify under the resolved key
	ErrSignatureMismatch = errors.New("signature mismatch")
)

var (
	signatureRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

	nonceLetters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
)

// GenerateNonce returns an alphanumeric nonce_str of NonceLength drawn from entropy
func GenerateNonce(entropy io.Reader) (string, error) {
	max := big.NewInt(int64(len(nonceLetters)))
	s := make([]byte, NonceLength)
	for i := range s {
		n, err := rand.Int(entropy, max)
		if err != nil {
			return "", err
		}
		s[i] = nonceLetters[n.Int64()]
	}
	return string(s), nil
}

// LookupVerifier by returning a static verifier
func (sk *StaticKeystore) LookupVerifier(ctx context.Context, serial string) (context.Context, *Verifier, error) {
	return ctx, &sk.Verifier, nil
}

// IsMalformed returns true if the signature parameters are invalid
func (sp *SignatureParams) IsMalformed() bool {
	if sp.Algorithm == invalid {
		return true
	}
	if len(sp.MerchantID) == 0 || len(sp.SerialNo) == 0 {
		return true
	}
	return false
}

// BuildSigningString builds the message a request signature covers: the
// method, request URI, timestamp, nonce and body, each line newline
// terminated. An absent body still contributes its empty line. The request
// body is consumed and restored so the signed bytes are the sent bytes.
func (sp *SignatureParams) BuildSigningString(req *http.Request, timestamp, nonce string) (out []byte, err error) {
	if sp.IsMalformed() {
		return nil, errors.New("refusing to build signing string with malformed params")
	}

	var body []byte
	if req.Body != nil {
		body, err = requestutils.Read(context.Background(), req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewBuffer(body))
	}
	return buildSigningString([]string{req.Method, req.URL.RequestURI(), timestamp, nonce, string(body)}), nil
}

// BuildSigningString builds the message a payload signature covers: the
// timestamp, nonce and payload body, each line newline terminated
func (rsp *ResponseSignatureParams) BuildSigningString(body []byte) []byte {
	return buildSigningString([]string{rsp.Timestamp, rsp.Nonce, string(body)})
}

func buildSigningString(lines []string) []byte {
	var b bytes.Buffer
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Sign the included HTTP request req using signator and options opts,
// covering the passed timestamp and nonce
func (sp *SignatureParams) Sign(signator Signator, opts crypto.SignerOpts, req *http.Request, timestamp, nonce string) error {
	ss, err := sp.BuildSigningString(req, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	sig, err := signator.Sign(rand.Reader, ss, opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	s := Signature{
		SignatureParams: *sp,
		Timestamp:       timestamp,
		Nonce:           nonce,
		Sig:             base64.StdEncoding.EncodeToString(sig),
	}

	sHeader, err := s.MarshalText()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	req.Header.Set("Authorization", string(sHeader))
	return nil
}

// NewParameterizedSignator returns a signator parameterized with sp that
// stamps requests with the wall clock and crypto/rand nonces
func NewParameterizedSignator(sp SignatureParams, signator Signator) *ParameterizedSignator {
	return &ParameterizedSignator{
		SignatureParams: sp,
		Signator:        signator,
		Opts:            crypto.SHA256,
		now:             time.Now,
		rand:            rand.Reader,
	}
}

// SignRequest stamps req with a fresh timestamp and nonce and signs it,
// setting the Authorization header
func (p *ParameterizedSignator) SignRequest(req *http.Request) error {
	timestamp := strconv.FormatInt(p.now().Unix(), 10)
	nonce, err := GenerateNonce(p.rand)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return p.SignatureParams.Sign(p.Signator, p.Opts, req, timestamp, nonce)
}

// NewParameterizedKeystoreVerifier returns a verifier resolving keys from
// keystore with the default timestamp tolerance
func NewParameterizedKeystoreVerifier(keystore Keystore) *ParameterizedKeystoreVerifier {
	return &ParameterizedKeystoreVerifier{
		Keystore:  keystore,
		Opts:      crypto.SHA256,
		Tolerance: DefaultTolerance,
		now:       time.Now,
	}
}

// VerifyResponse checks the signature headers of the HTTP response resp
// against the keystore, returns the signing serial if the signature is
// valid and an error otherwise. The response body is consumed and restored.
func (pkv *ParameterizedKeystoreVerifier) VerifyResponse(ctx context.Context, resp *http.Response) (context.Context, string, error) {
	rsp, err := ResponseSignatureParamsFromHeader(resp.Header)
	if err != nil {
		return nil, "", err
	}

	var body []byte
	if resp.Body != nil {
		body, err = requestutils.Read(ctx, resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		resp.Body = io.NopCloser(bytes.NewBuffer(body))
	}

	return pkv.verify(ctx, rsp, body)
}

// VerifyRequest checks the signature headers of an inbound notification
// delivery req against the keystore, returns the signing serial if the
// signature is valid and an error otherwise
func (pkv *ParameterizedKeystoreVerifier) VerifyRequest(req *http.Request) (context.Context, string, error) {
	rsp, err := ResponseSignatureParamsFromHeader(req.Header)
	if err != nil {
		return nil, "", err
	}

	var body []byte
	if req.Body != nil {
		body, err = requestutils.Read(req.Context(), req.Body)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		req.Body = io.NopCloser(bytes.NewBuffer(body))
	}

	return pkv.verify(req.Context(), rsp, body)
}

func (pkv *ParameterizedKeystoreVerifier) verify(ctx context.Context, rsp *ResponseSignatureParams, body []byte) (context.Context, string, error) {
	ts, err := strconv.ParseInt(rsp.Timestamp, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("%w: unparseable timestamp", ErrMalformedResponse)
	}
	if pkv.Tolerance > 0 {
		gap := pkv.now().Sub(time.Unix(ts, 0))
		if gap < 0 {
			gap = -gap
		}
		if gap > pkv.Tolerance {
			return nil, "", fmt.Errorf("%w: signed %s from now", ErrStaleTimestamp, gap)
		}
	}

	sig, err := base64.StdEncoding.DecodeString(rsp.Sig)
	if err != nil {
		return nil, "", fmt.Errorf("%w: signature is not base64", ErrMalformedResponse)
	}

	ctx, verifier, err := pkv.Keystore.LookupVerifier(ctx, rsp.SerialNo)
	if err != nil {
		return nil, "", err
	}
	if verifier == nil {
		return nil, "", fmt.Errorf("no verifier matching serial %s was found", rsp.SerialNo)
	}

	valid, err := (*verifier).Verify(rsp.BuildSigningString(body), sig, pkv.Opts)
	if err != nil {
		return nil, "", err
	}
	if !valid {
		return nil, "", ErrSignatureMismatch
	}

	return ctx, rsp.SerialNo, nil
}

// MarshalText marshalls the signature into an Authorization header value.
func (s *Signature) MarshalText() (text []byte, err error) {
	if s.IsMalformed() {
		return nil, errors.New("not a valid Algorithm")
	}

	algo, err := s.Algorithm.MarshalText()
	if err != nil {
		return nil, err
	}

	text = []byte(fmt.Sprintf("%s mchid=\"%s\",nonce_str=\"%s\",signature=\"%s\",timestamp=\"%s\",serial_no=\"%s\"",
		algo, s.MerchantID, s.Nonce, s.Sig, s.Timestamp, s.SerialNo))
	return text, nil
}

// UnmarshalText unmarshalls the signature from an Authorization header value.
func (s *Signature) UnmarshalText(text []byte) (err error) {
	if len(text) == 0 {
		return errors.New("authorization header is empty")
	}

	schema, params, found := strings.Cut(string(text), " ")
	if !found {
		return errors.New("authorization header missing signature params")
	}
	if err := s.Algorithm.UnmarshalText([]byte(schema)); err != nil {
		return err
	}

	s.MerchantID = ""
	s.SerialNo = ""
	s.Timestamp = ""
	s.Nonce = ""
	s.Sig = ""

	for _, m := range signatureRegex.FindAllStringSubmatch(params, -1) {
		key := m[1]
		value := m[2]

		switch key {
		case "mchid":
			s.MerchantID = value
		case "nonce_str":
			s.Nonce = value
		case "signature":
			s.Sig = value
		case "timestamp":
			s.Timestamp = value
		case "serial_no":
			s.SerialNo = value
		default:
			return errors.New("invalid key in signature")
		}
	}

	// Check that all required fields were present
	if len(s.MerchantID) == 0 || len(s.Nonce) == 0 || len(s.Sig) == 0 || len(s.Timestamp) == 0 || len(s.SerialNo) == 0 {
		return errors.New("a valid signature MUST have mchid, nonce_str, signature, timestamp, and serial_no keys")
	}

	return nil
}

// BuildSigningString rebuilds the message the parsed signature covers for req
func (s *Signature) BuildSigningString(req *http.Request) ([]byte, error) {
	return s.SignatureParams.BuildSigningString(req, s.Timestamp, s.Nonce)
}

// SignatureFromRequest extracts the signature and its parameters from the
// Authorization header of a signed http request
func SignatureFromRequest(req *http.Request) (*Signature, error) {
	var s Signature
	err := s.UnmarshalText([]byte(req.Header.Get("Authorization")))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ResponseSignatureParamsFromHeader extracts the signature parameters
// conveyed in the Wechatpay-* headers of a platform payload
func ResponseSignatureParamsFromHeader(h http.Header) (*ResponseSignatureParams, error) {
	rsp := ResponseSignatureParams{
		Timestamp: h.Get(TimestampHeader),
		Nonce:     h.Get(NonceHeader),
		SerialNo:  h.Get(SerialHeader),
		Sig:       h.Get(SignatureHeader),
	}
	for header, value := range map[string]string{
		TimestampHeader: rsp.Timestamp,
		NonceHeader:     rsp.Nonce,
		SerialHeader:    rsp.SerialNo,
		SignatureHeader: rsp.Sig,
	} {
		if len(value) == 0 {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedResponse, header)
		}
	}
	return &rsp, nil
}
