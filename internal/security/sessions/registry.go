package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/identity"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/detector"
	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/pkg/crypto"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

const (
	// DefaultSessionTTL is the fallback session lifetime.
	DefaultSessionTTL = 30 * 24 * time.Hour
	// DefaultInactivityThreshold is how long an idle session survives before the sweep ends it.
	DefaultInactivityThreshold = 30 * 24 * time.Hour
	// DefaultCleanupBatchSize bounds the number of sessions one sweep run processes.
	DefaultCleanupBatchSize = 500

	tokenBytes = 48
)

// ErrPrincipalNotFound indicates the session's principal does not exist.
var ErrPrincipalNotFound = errors.New("sessions: principal not found")

// Config describes tunable behaviour for the Registry.
type Config struct {
	SessionTTL          time.Duration
	InactivityThreshold time.Duration
	CleanupBatchSize    int
	Clock               func() time.Time
}

// CreateInput carries the attributes of a new session.
type CreateInput struct {
	PrincipalID string
	Token       string // generated when empty
	IPAddress   string
	UserAgent   string
	ExpiresAt   time.Time // defaults to now + SessionTTL when zero
}

// ActivityMetadata optionally refreshes network attributes on an activity ping.
type ActivityMetadata struct {
	IPAddress string
	UserAgent string
}

// Registry manages the session lifecycle: creation, activity tracking, and
// termination. Sessions are never physically deleted, only ended.
type Registry struct {
	db       *gorm.DB
	detector *detector.Detector
	events   *events.Service
	idp      identity.Provider

	ttl       time.Duration
	staleness time.Duration
	batchSize int
	now       func() time.Time
	log       *zap.Logger
}

// NewRegistry constructs a session registry. The identity provider is optional;
// when present, security revocations are mirrored to it best-effort.
func NewRegistry(db *gorm.DB, det *detector.Detector, eventLog *events.Service, idp identity.Provider, cfg Config) (*Registry, error) {
	if db == nil {
		return nil, errors.New("sessions: db is required")
	}
	if det == nil {
		return nil, errors.New("sessions: detector is required")
	}
	if eventLog == nil {
		return nil, errors.New("sessions: event log is required")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	staleness := cfg.InactivityThreshold
	if staleness <= 0 {
		staleness = DefaultInactivityThreshold
	}
	batchSize := cfg.CleanupBatchSize
	if batchSize <= 0 {
		batchSize = DefaultCleanupBatchSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Registry{
		db:        db,
		detector:  det,
		events:    eventLog,
		idp:       idp,
		ttl:       ttl,
		staleness: staleness,
		batchSize: batchSize,
		now:       clock,
		log:       logger.WithModule("sessions"),
	}, nil
}

// Create runs the suspicious-login detector, persists the session, bumps the
// principal's last login, and records the audit trail. High-risk logins for
// principals without two-factor raise an alert event; nothing is blocked.
func (r *Registry) Create(ctx context.Context, input CreateInput) (*models.Session, *detector.Result, error) {
	principalID := strings.TrimSpace(input.PrincipalID)
	if principalID == "" {
		return nil, nil, errors.New("sessions: principal id is required")
	}

	var principal models.Principal
	if err := r.db.WithContext(ctx).Take(&principal, "id = ?", principalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrPrincipalNotFound
		}
		return nil, nil, fmt.Errorf("sessions: load principal: %w", err)
	}

	// Detector verdicts inform alerting only; a detector failure must not
	// block the login path.
	verdict, err := r.detector.Detect(ctx, principalID, input.IPAddress, input.UserAgent)
	if err != nil {
		r.log.Warn("suspicious login detection failed", zap.String("principal_id", principalID), zap.Error(err))
		verdict = detector.Result{RiskLevel: detector.RiskLow, Factors: []string{}}
	}

	token := strings.TrimSpace(input.Token)
	if token == "" {
		token, err = crypto.GenerateToken(tokenBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("sessions: generate token: %w", err)
		}
	}

	now := r.now()
	expiresAt := input.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(r.ttl)
	}

	session := &models.Session{
		PrincipalID:  principalID,
		Token:        token,
		IPAddress:    strings.TrimSpace(input.IPAddress),
		UserAgent:    strings.TrimSpace(input.UserAgent),
		IsActive:     true,
		ExpiresAt:    expiresAt,
		LastActiveAt: now,
	}

	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, nil, fmt.Errorf("sessions: create session: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Principal{}).
		Where("id = ?", principalID).
		Update("last_login_at", &now).Error; err != nil {
		r.log.Warn("update last login failed", zap.String("principal_id", principalID), zap.Error(err))
	}

	metrics.ActiveSessions.Inc()

	r.events.RecordBestEffort(ctx, events.Entry{
		PrincipalID: principalID,
		Kind:        models.EventSessionCreated,
		IPAddress:   session.IPAddress,
		UserAgent:   session.UserAgent,
		Metadata: map[string]any{
			"session_id": session.ID,
			"risk_level": verdict.RiskLevel,
			"factors":    verdict.Factors,
		},
	})

	if verdict.RiskLevel == detector.RiskHigh && !principal.TwoFactorEnabled {
		r.events.RecordBestEffort(ctx, events.Entry{
			PrincipalID: principalID,
			Kind:        models.EventSecurityAlertSent,
			IPAddress:   session.IPAddress,
			UserAgent:   session.UserAgent,
			Metadata: map[string]any{
				"session_id": session.ID,
				"factors":    verdict.Factors,
			},
		})
	}

	return session, &verdict, nil
}

// UpdateActivity bumps lastActiveAt and optionally refreshes network metadata.
// This is a non-critical path: persistence failures are logged and swallowed.
func (r *Registry) UpdateActivity(ctx context.Context, token string, meta *ActivityMetadata) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("sessions: token is required")
	}

	updates := map[string]any{"last_active_at": r.now()}
	if meta != nil {
		if ip := strings.TrimSpace(meta.IPAddress); ip != "" {
			updates["ip_address"] = ip
		}
		if agent := strings.TrimSpace(meta.UserAgent); agent != "" {
			updates["user_agent"] = agent
		}
	}

	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("token = ? AND is_active = ?", token, true).
		Updates(updates)
	if result.Error != nil {
		r.log.Warn("activity update failed", zap.Error(result.Error))
	}
	return nil
}

// End terminates a session with the given reason. Ending an absent or already
// ended session is a no-op, not an error, so concurrent enders cannot fail
// each other. Returns whether this call performed the termination.
func (r *Registry) End(ctx context.Context, token, reason string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, errors.New("sessions: token is required")
	}

	var session models.Session
	err := r.db.WithContext(ctx).Take(&session, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sessions: find session: %w", err)
	}

	now := r.now()
	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("token = ? AND is_active = ?", token, true).
		Updates(map[string]any{
			"is_active":  false,
			"ended_at":   &now,
			"end_reason": reason,
		})
	if result.Error != nil {
		return false, fmt.Errorf("sessions: end session: %w", result.Error)
	}
	// Lost the race to a concurrent caller; the session is already ended.
	if result.RowsAffected == 0 {
		return false, nil
	}

	metrics.ActiveSessions.Dec()

	r.events.RecordBestEffort(ctx, events.Entry{
		PrincipalID: session.PrincipalID,
		Kind:        models.EventSessionEnded,
		IPAddress:   session.IPAddress,
		UserAgent:   session.UserAgent,
		Metadata: map[string]any{
			"session_id":       session.ID,
			"reason":           reason,
			"duration_seconds": int64(now.Sub(session.CreatedAt).Seconds()),
		},
	})

	if reason == models.SessionEndSecurityRevoked && r.idp != nil {
		if err := r.idp.RevokeSession(ctx, token); err != nil {
			r.log.Warn("identity provider revocation failed", zap.Error(err))
		}
	}

	return true, nil
}

// ListActive returns the principal's sessions that are active and unexpired,
// most recently active first.
func (r *Registry) ListActive(ctx context.Context, principalID string) ([]models.Session, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, errors.New("sessions: principal id is required")
	}

	var sessions []models.Session
	if err := r.db.WithContext(ctx).
		Where("principal_id = ? AND is_active = ? AND expires_at > ?", principalID, true, r.now()).
		Order("last_active_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("sessions: list active: %w", err)
	}
	return sessions, nil
}

// RevokeAllOther ends every active session of the principal except keepToken.
// When an identity provider is configured, provider-side sessions with no
// local counterpart are revoked as well, best-effort.
func (r *Registry) RevokeAllOther(ctx context.Context, principalID, keepToken string) (int, error) {
	active, err := r.ListActive(ctx, principalID)
	if err != nil {
		return 0, err
	}

	local := make(map[string]struct{}, len(active))
	revoked := 0
	for _, session := range active {
		local[session.Token] = struct{}{}
		if session.Token == keepToken {
			continue
		}
		ended, err := r.End(ctx, session.Token, models.SessionEndSecurityRevoked)
		if err != nil {
			return revoked, err
		}
		if ended {
			revoked++
		}
	}

	r.revokeOrphanProviderSessions(ctx, principalID, keepToken, local)
	return revoked, nil
}

// revokeOrphanProviderSessions ends provider-side sessions the registry never
// tracked locally. Locally known tokens are skipped since End already mirrors
// their revocation. Failures are logged, never propagated.
func (r *Registry) revokeOrphanProviderSessions(ctx context.Context, principalID, keepToken string, local map[string]struct{}) {
	if r.idp == nil {
		return
	}

	var principal models.Principal
	if err := r.db.WithContext(ctx).Take(&principal, "id = ?", principalID).Error; err != nil {
		r.log.Warn("load principal for provider revocation failed",
			zap.String("principal_id", principalID), zap.Error(err))
		return
	}
	if principal.ExternalID == "" {
		return
	}

	remote, err := r.idp.ListSessions(ctx, principal.ExternalID)
	if err != nil {
		r.log.Warn("list provider sessions failed",
			zap.String("principal_id", principalID), zap.Error(err))
		return
	}
	for _, session := range remote {
		if session.Token == keepToken {
			continue
		}
		if _, known := local[session.Token]; known {
			continue
		}
		if err := r.idp.RevokeSession(ctx, session.Token); err != nil {
			r.log.Warn("provider session revocation failed", zap.Error(err))
		}
	}
}

// CleanupExpired sweeps one batch of sessions that are expired or idle beyond
// the inactivity threshold, ending each with reason "expired". The sweep
// tolerates sessions vanishing between scan and update.
func (r *Registry) CleanupExpired(ctx context.Context) (int64, error) {
	now := r.now()
	idleCutoff := now.Add(-r.staleness)

	var stale []models.Session
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND (expires_at < ? OR last_active_at < ?)", true, now, idleCutoff).
		Limit(r.batchSize).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("sessions: scan expired: %w", err)
	}

	var swept int64
	for _, session := range stale {
		ended, err := r.End(ctx, session.Token, models.SessionEndExpired)
		if err != nil {
			return swept, err
		}
		if ended {
			swept++
		}
	}
	return swept, nil
}
