package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/internal/models"
)

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
}

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	service, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "inkwell"})
	require.NoError(t, err)

	token, err := service.GenerateAccessToken(AccessTokenInput{
		PrincipalID:  "p-1",
		Role:         models.RoleEditor,
		SessionToken: "sess-1",
	})
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "p-1", claims.PrincipalID)
	require.Equal(t, string(models.RoleEditor), claims.Role)
	require.Equal(t, "sess-1", claims.SessionToken)
	require.Equal(t, "inkwell", claims.Issuer)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := issuedAt
	service, err := NewJWTService(JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Minute,
		Clock:          func() time.Time { return clock },
	})
	require.NoError(t, err)

	token, err := service.GenerateAccessToken(AccessTokenInput{PrincipalID: "p-1", Role: models.RoleUser})
	require.NoError(t, err)

	clock = issuedAt.Add(2 * time.Minute)
	_, err = service.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	issuing, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "other"})
	require.NoError(t, err)
	validating, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "inkwell"})
	require.NoError(t, err)

	token, err := issuing.GenerateAccessToken(AccessTokenInput{PrincipalID: "p-1", Role: models.RoleUser})
	require.NoError(t, err)

	_, err = validating.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateRejectsTamperedSecret(t *testing.T) {
	issuing, err := NewJWTService(JWTConfig{Secret: "secret-a"})
	require.NoError(t, err)
	validating, err := NewJWTService(JWTConfig{Secret: "secret-b"})
	require.NoError(t, err)

	token, err := issuing.GenerateAccessToken(AccessTokenInput{PrincipalID: "p-1", Role: models.RoleUser})
	require.NoError(t, err)

	_, err = validating.ValidateAccessToken(token)
	require.Error(t, err)
}
