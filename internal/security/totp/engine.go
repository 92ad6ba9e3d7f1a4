package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

const (
	// SecretBytes is the raw entropy of a generated secret (160 bits, RFC 4226 recommendation).
	SecretBytes = 20
	// Period is the TOTP time-step in seconds.
	Period = 30
	// Digits is the code length.
	Digits = 6

	defaultWindow     = 1
	defaultQRCodeSize = 256
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Engine computes and verifies TOTP codes. Stateless and pure over
// (secret, time, candidate); replay tracking is the caller's concern.
type Engine struct {
	window     int
	qrCodeSize int
}

// Option customises the Engine.
type Option func(*Engine)

// WithWindow overrides the accepted step skew. A window of 1 checks three
// steps and tolerates roughly ±30s of clock drift.
func WithWindow(window int) Option {
	return func(e *Engine) {
		if window >= 0 {
			e.window = window
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.qrCodeSize = size
		}
	}
}

// NewEngine constructs a TOTP engine with the default ±1 step window.
func NewEngine(opts ...Option) *Engine {
	engine := &Engine{
		window:     defaultWindow,
		qrCodeSize: defaultQRCodeSize,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// GenerateSecret returns a fresh 160-bit secret, base32-encoded without padding.
func (e *Engine) GenerateSecret() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("totp: generate secret: %w", err)
	}
	return b32.EncodeToString(buf), nil
}

// ProvisioningURI builds the otpauth:// URI consumed by authenticator apps.
func (e *Engine) ProvisioningURI(issuer, accountLabel, secret string) string {
	issuer = strings.TrimSpace(issuer)
	accountLabel = strings.TrimSpace(accountLabel)

	query := url.Values{}
	query.Set("secret", secret)
	query.Set("issuer", issuer)
	query.Set("algorithm", "SHA1")
	query.Set("digits", fmt.Sprintf("%d", Digits))
	query.Set("period", fmt.Sprintf("%d", Period))

	uri := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + accountLabel,
		RawQuery: query.Encode(),
	}
	return uri.String()
}

// Verify checks a candidate code against the secret at the given time. It
// returns the matched time-step so callers can reject replays of the same
// step. A candidate matching no step in [-window, window] returns (false, 0).
func (e *Engine) Verify(secret, candidate string, at time.Time) (bool, int64, error) {
	secret = strings.TrimSpace(secret)
	candidate = strings.TrimSpace(candidate)
	if secret == "" || candidate == "" {
		return false, 0, errors.New("totp: secret and candidate are required")
	}

	opts := totp.ValidateOpts{
		Period:    Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	for offset := -e.window; offset <= e.window; offset++ {
		stepTime := at.Add(time.Duration(offset*Period) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, stepTime, opts)
		if err != nil {
			return false, 0, fmt.Errorf("totp: compute code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1 {
			return true, stepTime.Unix() / Period, nil
		}
	}

	return false, 0, nil
}

// Code computes the current code for a secret. Used by provisioning flows to
// confirm an enrolment before flipping the two-factor flag.
func (e *Engine) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(strings.TrimSpace(secret), at, totp.ValidateOpts{
		Period:    Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// QRCode renders a provisioning URI as a PNG image.
func (e *Engine) QRCode(provisioningURI string) ([]byte, error) {
	if strings.TrimSpace(provisioningURI) == "" {
		return nil, errors.New("totp: provisioning uri is required")
	}
	return qrcode.Encode(provisioningURI, qrcode.Medium, e.qrCodeSize)
}
