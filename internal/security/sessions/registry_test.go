package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/database/testutil"
	"github.com/inkwell-hq/inkwell/internal/identity"
	"github.com/inkwell-hq/inkwell/internal/identity/identitytest"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/detector"
	"github.com/inkwell-hq/inkwell/internal/security/events"
)

func newRegistry(t *testing.T, clock func() time.Time) (*Registry, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	eventLog, err := events.NewService(db)
	require.NoError(t, err)

	var detOpts []detector.Option
	if clock != nil {
		detOpts = append(detOpts, detector.WithClock(clock))
	}
	det, err := detector.NewDetector(eventLog, detOpts...)
	require.NoError(t, err)

	registry, err := NewRegistry(db, det, eventLog, nil, Config{Clock: clock})
	require.NoError(t, err)
	return registry, db
}

func createPrincipal(t *testing.T, db *gorm.DB, twoFactor bool) *models.Principal {
	t.Helper()

	principal := &models.Principal{
		ExternalID:       "ext-" + t.Name(),
		Email:            t.Name() + "@example.com",
		Role:             models.RoleUser,
		Status:           models.PrincipalStatusActive,
		TwoFactorEnabled: twoFactor,
	}
	require.NoError(t, db.Create(principal).Error)
	return principal
}

func TestCreatePersistsSessionAndAudit(t *testing.T) {
	registry, db := newRegistry(t, nil)
	principal := createPrincipal(t, db, false)

	ctx := context.Background()
	session, verdict, err := registry.Create(ctx, CreateInput{
		PrincipalID: principal.ID,
		IPAddress:   "10.0.0.1",
		UserAgent:   "Firefox",
	})
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	require.True(t, session.IsActive)
	require.NotNil(t, verdict)
	require.False(t, verdict.IsSuspicious)

	var reloaded models.Principal
	require.NoError(t, db.Take(&reloaded, "id = ?", principal.ID).Error)
	require.NotNil(t, reloaded.LastLoginAt)

	var eventCount int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).
		Where("principal_id = ? AND kind = ?", principal.ID, models.EventSessionCreated).
		Count(&eventCount).Error)
	require.EqualValues(t, 1, eventCount)
}

func TestCreateUnknownPrincipal(t *testing.T) {
	registry, _ := newRegistry(t, nil)

	_, _, err := registry.Create(context.Background(), CreateInput{PrincipalID: "nope"})
	require.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestHighRiskLoginWithoutTwoFactorAlerts(t *testing.T) {
	registry, db := newRegistry(t, nil)
	principal := createPrincipal(t, db, false)

	ctx := context.Background()
	_, _, err := registry.Create(ctx, CreateInput{
		PrincipalID: principal.ID,
		IPAddress:   "10.0.0.1",
		UserAgent:   "Firefox",
	})
	require.NoError(t, err)

	// New IP and new user agent makes the second login high risk.
	_, verdict, err := registry.Create(ctx, CreateInput{
		PrincipalID: principal.ID,
		IPAddress:   "203.0.113.5",
		UserAgent:   "Chrome",
	})
	require.NoError(t, err)
	require.Equal(t, detector.RiskHigh, verdict.RiskLevel)

	var alerts int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).
		Where("principal_id = ? AND kind = ?", principal.ID, models.EventSecurityAlertSent).
		Count(&alerts).Error)
	require.EqualValues(t, 1, alerts)
}

func TestHighRiskLoginWithTwoFactorDoesNotAlert(t *testing.T) {
	registry, db := newRegistry(t, nil)
	principal := createPrincipal(t, db, true)

	ctx := context.Background()
	_, _, err := registry.Create(ctx, CreateInput{
		PrincipalID: principal.ID,
		IPAddress:   "10.0.0.1",
		UserAgent:   "Firefox",
	})
	require.NoError(t, err)

	_, _, err = registry.Create(ctx, CreateInput{
		PrincipalID: principal.ID,
		IPAddress:   "203.0.113.5",
		UserAgent:   "Chrome",
	})
	require.NoError(t, err)

	var alerts int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).
		Where("principal_id = ? AND kind = ?", principal.ID, models.EventSecurityAlertSent).
		Count(&alerts).Error)
	require.Zero(t, alerts)
}

func TestEndIsIdempotent(t *testing.T) {
	registry, db := newRegistry(t, nil)
	principal := createPrincipal(t, db, false)

	ctx := context.Background()
	session, _, err := registry.Create(ctx, CreateInput{PrincipalID: principal.ID})
	require.NoError(t, err)

	ended, err := registry.End(ctx, session.Token, models.SessionEndUserLogout)
	require.NoError(t, err)
	require.True(t, ended)

	// Second end is a no-op, not an error.
	ended, err = registry.End(ctx, session.Token, models.SessionEndUserLogout)
	require.NoError(t, err)
	require.False(t, ended)

	// Unknown tokens are also a no-op.
	ended, err = registry.End(ctx, "missing", models.SessionEndUserLogout)
	require.NoError(t, err)
	require.False(t, ended)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "token = ?", session.Token).Error)
	require.False(t, reloaded.IsActive)
	require.Equal(t, models.SessionEndUserLogout, reloaded.EndReason)
	require.NotNil(t, reloaded.EndedAt)
}

func TestUpdateActivityRefreshesMetadata(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	registry, db := newRegistry(t, clock)
	principal := createPrincipal(t, db, false)

	ctx := context.Background()
	session, _, err := registry.Create(ctx, CreateInput{
		PrincipalID: principal.ID,
		IPAddress:   "10.0.0.1",
	})
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	require.NoError(t, registry.UpdateActivity(ctx, session.Token, &ActivityMetadata{IPAddress: "10.0.0.2"}))

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "token = ?", session.Token).Error)
	require.Equal(t, "10.0.0.2", reloaded.IPAddress)
	require.True(t, reloaded.LastActiveAt.After(session.LastActiveAt))
}

func TestListActiveExcludesEndedAndExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	registry, db := newRegistry(t, clock)
	principal := createPrincipal(t, db, false)

	ctx := context.Background()
	live, _, err := registry.Create(ctx, CreateInput{PrincipalID: principal.ID})
	require.NoError(t, err)

	endedSession, _, err := registry.Create(ctx, CreateInput{PrincipalID: principal.ID})
	require.NoError(t, err)
	_, err = registry.End(ctx, endedSession.Token, models.SessionEndUserLogout)
	require.NoError(t, err)

	expired, _, err := registry.Create(ctx, CreateInput{
		PrincipalID: principal.ID,
		ExpiresAt:   now.Add(time.Minute),
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	active, err := registry.ListActive(ctx, principal.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, live.ID, active[0].ID)
	require.NotEqual(t, expired.ID, active[0].ID)
}

func TestRevokeAllOtherKeepsCurrent(t *testing.T) {
	registry, db := newRegistry(t, nil)
	principal := createPrincipal(t, db, false)

	ctx := context.Background()
	keep, _, err := registry.Create(ctx, CreateInput{PrincipalID: principal.ID})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err = registry.Create(ctx, CreateInput{PrincipalID: principal.ID})
		require.NoError(t, err)
	}

	revoked, err := registry.RevokeAllOther(ctx, principal.ID, keep.Token)
	require.NoError(t, err)
	require.Equal(t, 3, revoked)

	active, err := registry.ListActive(ctx, principal.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, keep.ID, active[0].ID)
}

func TestRevokeAllOtherEndsOrphanProviderSessions(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	eventLog, err := events.NewService(db)
	require.NoError(t, err)
	det, err := detector.NewDetector(eventLog)
	require.NoError(t, err)

	idp := identitytest.NewFake()
	registry, err := NewRegistry(db, det, eventLog, idp, Config{})
	require.NoError(t, err)

	principal := createPrincipal(t, db, false)

	ctx := context.Background()
	keep, _, err := registry.Create(ctx, CreateInput{PrincipalID: principal.ID})
	require.NoError(t, err)
	other, _, err := registry.Create(ctx, CreateInput{PrincipalID: principal.ID})
	require.NoError(t, err)

	// The provider additionally holds a session the registry never saw.
	idp.PutSession(principal.ExternalID, identity.ExternalSession{Token: keep.Token, UserID: principal.ExternalID})
	idp.PutSession(principal.ExternalID, identity.ExternalSession{Token: other.Token, UserID: principal.ExternalID})
	idp.PutSession(principal.ExternalID, identity.ExternalSession{Token: "provider-only", UserID: principal.ExternalID})

	revoked, err := registry.RevokeAllOther(ctx, principal.ID, keep.Token)
	require.NoError(t, err)
	require.Equal(t, 1, revoked)

	remote, err := idp.ListSessions(ctx, principal.ExternalID)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	require.Equal(t, keep.Token, remote[0].Token)
}

func TestCleanupExpiredSweepsStaleSessions(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	registry, db := newRegistry(t, clock)
	principal := createPrincipal(t, db, false)

	ctx := context.Background()

	_, _, err := registry.Create(ctx, CreateInput{PrincipalID: principal.ID})
	require.NoError(t, err)

	shortLived, _, err := registry.Create(ctx, CreateInput{
		PrincipalID: principal.ID,
		ExpiresAt:   now.Add(time.Hour),
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)

	swept, err := registry.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, swept)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "token = ?", shortLived.Token).Error)
	require.False(t, reloaded.IsActive)
	require.Equal(t, models.SessionEndExpired, reloaded.EndReason)

	// Re-running the sweep finds nothing new.
	swept, err = registry.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, swept)
}
