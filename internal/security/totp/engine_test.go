package totp

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateSecretFormat(t *testing.T) {
	engine := NewEngine()

	secret, err := engine.GenerateSecret()
	require.NoError(t, err)

	// 160 bits of entropy, base32 without padding
	require.Len(t, secret, 32)
	require.NotContains(t, secret, "=")

	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)
	require.Len(t, raw, SecretBytes)

	other, err := engine.GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, secret, other)
}

func TestProvisioningURI(t *testing.T) {
	engine := NewEngine()
	uri := engine.ProvisioningURI("Inkwell", "alice@example.com", "JBSWY3DPEHPK3PXP")

	require.True(t, strings.HasPrefix(uri, "otpauth://totp/Inkwell:alice@example.com?"))
	require.Contains(t, uri, "secret=JBSWY3DPEHPK3PXP")
	require.Contains(t, uri, "issuer=Inkwell")
	require.Contains(t, uri, "algorithm=SHA1")
	require.Contains(t, uri, "digits=6")
	require.Contains(t, uri, "period=30")
}

func TestVerifyRoundTrip(t *testing.T) {
	engine := NewEngine()

	secret, err := engine.GenerateSecret()
	require.NoError(t, err)

	at := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	code, err := engine.Code(secret, at)
	require.NoError(t, err)
	require.Len(t, code, Digits)

	ok, step, err := engine.Verify(secret, code, at)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, at.Unix()/Period, step)
}

func TestVerifyAcceptsAdjacentSteps(t *testing.T) {
	engine := NewEngine()

	secret, err := engine.GenerateSecret()
	require.NoError(t, err)

	at := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	code, err := engine.Code(secret, at)
	require.NoError(t, err)

	// One step of drift either way stays within the window.
	ok, _, err := engine.Verify(secret, code, at.Add(30*time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = engine.Verify(secret, code, at.Add(-30*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsOutsideWindow(t *testing.T) {
	engine := NewEngine()

	secret, err := engine.GenerateSecret()
	require.NoError(t, err)

	at := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	code, err := engine.Code(secret, at)
	require.NoError(t, err)

	ok, _, err := engine.Verify(secret, code, at.Add(91*time.Second))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	engine := NewEngine()

	secret, err := engine.GenerateSecret()
	require.NoError(t, err)

	ok, _, err := engine.Verify(secret, "000000", time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = engine.Verify("", "123456", time.Now())
	require.Error(t, err)
}

func TestQRCode(t *testing.T) {
	engine := NewEngine(WithQRCodeSize(128))

	uri := engine.ProvisioningURI("Inkwell", "alice@example.com", "JBSWY3DPEHPK3PXP")
	png, err := engine.QRCode(uri)
	require.NoError(t, err)
	require.NotEmpty(t, png)

	_, err = engine.QRCode("")
	require.Error(t, err)
}
