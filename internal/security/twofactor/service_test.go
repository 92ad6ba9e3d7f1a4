package twofactor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/database/testutil"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/backupcode"
	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/internal/security/totp"
	"github.com/inkwell-hq/inkwell/pkg/crypto"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func newService(t *testing.T, opts ...Option) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	eventLog, err := events.NewService(db)
	require.NoError(t, err)

	backups, err := backupcode.NewManager(db)
	require.NoError(t, err)

	service, err := NewService(db, totp.NewEngine(), backups, eventLog, testKey, opts...)
	require.NoError(t, err)
	return service, db
}

func seedPrincipal(t *testing.T, db *gorm.DB, enabled bool) *models.Principal {
	t.Helper()

	principal := &models.Principal{
		ExternalID:       "ext-" + t.Name(),
		Email:            t.Name() + "@example.com",
		Role:             models.RoleUser,
		Status:           models.PrincipalStatusActive,
		TwoFactorEnabled: enabled,
	}
	require.NoError(t, db.Create(principal).Error)
	return principal
}

func TestNewServiceRejectsShortKey(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	eventLog, err := events.NewService(db)
	require.NoError(t, err)
	backups, err := backupcode.NewManager(db)
	require.NoError(t, err)

	_, err = NewService(db, totp.NewEngine(), backups, eventLog, []byte("short"))
	require.Error(t, err)
}

func TestEnableIssuesEnrollment(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	enrollment, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")
	require.Contains(t, enrollment.ProvisioningURI, "issuer=Inkwell")
	require.NotEmpty(t, enrollment.QRCodePNG)
	require.Len(t, enrollment.BackupCodes, backupcode.DefaultCodeCount)

	var reloaded models.Principal
	require.NoError(t, db.Take(&reloaded, "id = ?", principal.ID).Error)
	require.True(t, reloaded.TwoFactorEnabled)

	// The stored secret is encrypted, never the raw base32 value.
	var stored models.TOTPSecret
	require.NoError(t, db.Take(&stored, "principal_id = ?", principal.ID).Error)
	require.NotEqual(t, enrollment.Secret, stored.Secret)

	decrypted, err := crypto.Decrypt(stored.Secret, testKey)
	require.NoError(t, err)
	require.Equal(t, enrollment.Secret, string(decrypted))
}

func TestEnableTwiceFails(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	_, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)

	_, err = service.Enable(ctx, principal.ID)
	require.ErrorIs(t, err, ErrAlreadyEnabled)
}

func TestVerifyTOTPAcceptsCurrentCode(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service, db := newService(t, WithClock(func() time.Time { return at }))
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	enrollment, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)

	code, err := totp.NewEngine().Code(enrollment.Secret, at)
	require.NoError(t, err)

	ok, err := service.Verify(ctx, principal.ID, code, MethodTOTP)
	require.NoError(t, err)
	require.True(t, ok)

	var count int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).
		Where("principal_id = ? AND kind = ?", principal.ID, models.EventTwoFactorVerified).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestVerifyTOTPRejectsReplay(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service, db := newService(t, WithClock(func() time.Time { return at }))
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	enrollment, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)

	code, err := totp.NewEngine().Code(enrollment.Secret, at)
	require.NoError(t, err)

	ok, err := service.Verify(ctx, principal.ID, code, MethodTOTP)
	require.NoError(t, err)
	require.True(t, ok)

	// The same code inside the same window is a replay.
	ok, err = service.Verify(ctx, principal.ID, code, MethodTOTP)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyTOTPRejectsWrongCode(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	_, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)

	ok, err := service.Verify(ctx, principal.ID, "000000", MethodTOTP)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyBackupCodeConsumes(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	enrollment, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)

	ok, err := service.Verify(ctx, principal.ID, enrollment.BackupCodes[0], MethodBackupCode)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = service.Verify(ctx, principal.ID, enrollment.BackupCodes[0], MethodBackupCode)
	require.NoError(t, err)
	require.False(t, ok)

	status, err := service.GetStatus(ctx, principal.ID)
	require.NoError(t, err)
	require.True(t, status.Enabled)
	require.Equal(t, backupcode.DefaultCodeCount-1, status.RemainingBackupCodes)
}

func TestVerifyUnknownMethod(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	_, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)

	_, err = service.Verify(ctx, principal.ID, "whatever", "sms")
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestVerifyRequiresEnrollment(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	_, err := service.Verify(context.Background(), principal.ID, "123456", MethodTOTP)
	require.ErrorIs(t, err, ErrNotEnabled)
}

func TestDisableTearsDown(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	_, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)

	require.NoError(t, service.Disable(ctx, principal.ID))

	var reloaded models.Principal
	require.NoError(t, db.Take(&reloaded, "id = ?", principal.ID).Error)
	require.False(t, reloaded.TwoFactorEnabled)

	var secrets int64
	require.NoError(t, db.Model(&models.TOTPSecret{}).
		Where("principal_id = ?", principal.ID).Count(&secrets).Error)
	require.Zero(t, secrets)

	var codes int64
	require.NoError(t, db.Model(&models.BackupCode{}).
		Where("principal_id = ?", principal.ID).Count(&codes).Error)
	require.Zero(t, codes)

	require.ErrorIs(t, service.Disable(ctx, principal.ID), ErrNotEnabled)
}

func TestRegenerateBackupCodesReplacesSet(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	ctx := context.Background()
	enrollment, err := service.Enable(ctx, principal.ID)
	require.NoError(t, err)

	fresh, err := service.RegenerateBackupCodes(ctx, principal.ID)
	require.NoError(t, err)
	require.Len(t, fresh, backupcode.DefaultCodeCount)

	// Old set is dead immediately.
	ok, err := service.Verify(ctx, principal.ID, enrollment.BackupCodes[0], MethodBackupCode)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = service.Verify(ctx, principal.ID, fresh[0], MethodBackupCode)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetStatusDisabled(t *testing.T) {
	service, db := newService(t)
	principal := seedPrincipal(t, db, false)

	status, err := service.GetStatus(context.Background(), principal.ID)
	require.NoError(t, err)
	require.False(t, status.Enabled)
	require.Zero(t, status.RemainingBackupCodes)
}

func TestUnknownPrincipal(t *testing.T) {
	service, _ := newService(t)

	_, err := service.Enable(context.Background(), "missing")
	require.ErrorIs(t, err, ErrPrincipalNotFound)
}
