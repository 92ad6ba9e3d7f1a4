package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/identity"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

// ErrPrincipalNotFound indicates no local principal matches the identifier.
var ErrPrincipalNotFound = errors.New("sync: principal not found")

// ConflictLocalNewer marks an inbound sync skipped because the local profile
// was modified after the external one.
const ConflictLocalNewer = "local_profile_newer"

// Options control how an inbound sync treats a newer local profile.
type Options struct {
	// Force applies the external values even when the local profile is newer.
	Force bool
	// SkipConflicts keeps the pass successful on a conflict: populated local
	// fields win, the external copy only fills gaps, and the conflict is
	// reported rather than failing the attempt.
	SkipConflicts bool
}

// Result summarises one sync attempt in one direction.
type Result struct {
	PrincipalID      string   `json:"principal_id"`
	Direction        string   `json:"direction"`
	Success          bool     `json:"success"`
	Created          bool     `json:"created,omitempty"`
	Changes          []string `json:"changes"`
	Conflicts        []string `json:"conflicts,omitempty"`
	ConflictsSkipped bool     `json:"conflicts_skipped,omitempty"`
	Error            string   `json:"error,omitempty"`
	DurationMS       int64    `json:"duration_ms"`
}

// BidirectionalResult pairs the two independent directions of one pass.
type BidirectionalResult struct {
	FromExternal *Result `json:"from_external"`
	ToExternal   *Result `json:"to_external"`
}

// Engine reconciles local principals with the external identity provider.
// Every attempt, including failures, leaves a SyncRecord row.
type Engine struct {
	db  *gorm.DB
	idp identity.Provider
	now func() time.Time
	log *zap.Logger
}

// Option customises the Engine.
type Option func(*Engine)

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// NewEngine constructs a sync engine over the identity provider.
func NewEngine(db *gorm.DB, idp identity.Provider, opts ...Option) (*Engine, error) {
	if db == nil {
		return nil, errors.New("sync: db is required")
	}
	if idp == nil {
		return nil, errors.New("sync: identity provider is required")
	}

	engine := &Engine{
		db:  db,
		idp: idp,
		now: time.Now,
		log: logger.WithModule("sync"),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// SyncFromExternal pulls the external profile and applies field-level changes
// to the local principal. An unknown external ID provisions a new principal
// with default preferences. When the local profile was updated after the
// external one the pass is a conflict: by default it applies nothing and
// reports Success=false with a nil error, Force applies everything anyway,
// and SkipConflicts applies only the fields that are empty locally while
// keeping the attempt successful.
func (e *Engine) SyncFromExternal(ctx context.Context, externalID string, opts Options) (*Result, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, errors.New("sync: external id is required")
	}

	started := e.now()
	result := &Result{Direction: models.SyncDirectionFromExternal, Changes: []string{}}

	external, err := e.idp.GetUser(ctx, externalID)
	if err != nil {
		e.finish(ctx, result, started, err)
		return result, fmt.Errorf("sync: fetch external user: %w", err)
	}

	var principal models.Principal
	err = e.db.WithContext(ctx).Take(&principal, "external_id = ?", externalID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		created, provisionErr := e.provision(ctx, external)
		if provisionErr != nil {
			e.finish(ctx, result, started, provisionErr)
			return result, provisionErr
		}
		result.PrincipalID = created.ID
		result.Created = true
		result.Changes = []string{"provisioned"}
		e.finish(ctx, result, started, nil)
		return result, nil
	case err != nil:
		wrapped := fmt.Errorf("sync: load principal: %w", err)
		e.finish(ctx, result, started, wrapped)
		return result, wrapped
	}

	result.PrincipalID = principal.ID

	updates := e.diffFromExternal(&principal, external)
	if principal.UpdatedAt.After(external.UpdatedAt) && !opts.Force {
		result.Conflicts = []string{ConflictLocalNewer}
		if !opts.SkipConflicts {
			e.finish(ctx, result, started, nil)
			return result, nil
		}
		// Populated local fields win; the external copy only fills gaps.
		result.ConflictsSkipped = true
		updates = fillUpdates(&principal, updates)
	}

	if len(updates) > 0 {
		// UpdateColumns leaves updated_at alone so the conflict watermark
		// keeps tracking user edits, not sync applies.
		if err := e.db.WithContext(ctx).
			Model(&models.Principal{}).
			Where("id = ?", principal.ID).
			UpdateColumns(updates).Error; err != nil {
			wrapped := fmt.Errorf("sync: apply changes: %w", err)
			e.finish(ctx, result, started, wrapped)
			return result, wrapped
		}
		for field := range updates {
			result.Changes = append(result.Changes, field)
		}
		sort.Strings(result.Changes)
	}

	e.finish(ctx, result, started, nil)
	return result, nil
}

// fillUpdates keeps only the updates targeting fields that are empty locally.
func fillUpdates(principal *models.Principal, updates map[string]any) map[string]any {
	locals := map[string]string{
		"email":      principal.Email,
		"first_name": principal.FirstName,
		"last_name":  principal.LastName,
		"avatar":     principal.Avatar,
	}

	filled := map[string]any{}
	for column, value := range updates {
		if current, ok := locals[column]; ok && current == "" {
			filled[column] = value
		}
	}
	return filled
}

// SyncPrincipalFromExternal resolves a local principal to its external ID and
// pulls the external profile.
func (e *Engine) SyncPrincipalFromExternal(ctx context.Context, principalID string, opts Options) (*Result, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, errors.New("sync: principal id is required")
	}

	var principal models.Principal
	if err := e.db.WithContext(ctx).Take(&principal, "id = ?", principalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("sync: load principal: %w", err)
	}

	return e.SyncFromExternal(ctx, principal.ExternalID, opts)
}

// SyncToExternal pushes the principal's name fields and a metadata summary to
// the identity provider. Local state is never mutated, so a provider timeout
// leaves nothing half-applied.
func (e *Engine) SyncToExternal(ctx context.Context, principalID string) (*Result, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, errors.New("sync: principal id is required")
	}

	started := e.now()
	result := &Result{
		PrincipalID: principalID,
		Direction:   models.SyncDirectionToExternal,
		Changes:     []string{},
	}

	var principal models.Principal
	if err := e.db.WithContext(ctx).Take(&principal, "id = ?", principalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.finish(ctx, result, started, ErrPrincipalNotFound)
			return result, ErrPrincipalNotFound
		}
		wrapped := fmt.Errorf("sync: load principal: %w", err)
		e.finish(ctx, result, started, wrapped)
		return result, wrapped
	}

	update := identity.UserUpdate{
		FirstName: &principal.FirstName,
		LastName:  &principal.LastName,
	}
	if err := e.idp.UpdateUser(ctx, principal.ExternalID, update); err != nil {
		wrapped := fmt.Errorf("sync: push profile: %w", err)
		e.finish(ctx, result, started, wrapped)
		return result, wrapped
	}
	result.Changes = append(result.Changes, "first_name", "last_name")

	metadata := map[string]any{
		"role":               string(principal.Role),
		"status":             principal.Status,
		"two_factor_enabled": principal.TwoFactorEnabled,
	}
	if principal.LastLoginAt != nil {
		metadata["last_login_at"] = principal.LastLoginAt.UTC().Format(time.RFC3339)
	}
	if prefs := e.preferenceSummary(ctx, principal.ID); prefs != nil {
		metadata["preferences"] = prefs
	}
	if err := e.idp.UpdateUserMetadata(ctx, principal.ExternalID, metadata); err != nil {
		wrapped := fmt.Errorf("sync: push metadata: %w", err)
		e.finish(ctx, result, started, wrapped)
		return result, wrapped
	}
	result.Changes = append(result.Changes, "metadata")

	e.finish(ctx, result, started, nil)
	return result, nil
}

// BidirectionalSync runs both directions for one principal. The directions are
// independent: a failure on one side is reported but does not suppress the
// other.
func (e *Engine) BidirectionalSync(ctx context.Context, principalID string, opts Options) (*BidirectionalResult, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, errors.New("sync: principal id is required")
	}

	var principal models.Principal
	if err := e.db.WithContext(ctx).Take(&principal, "id = ?", principalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("sync: load principal: %w", err)
	}

	combined := &BidirectionalResult{}

	fromResult, err := e.SyncFromExternal(ctx, principal.ExternalID, opts)
	if err != nil {
		e.log.Warn("inbound sync failed", zap.String("principal_id", principalID), zap.Error(err))
	}
	combined.FromExternal = fromResult

	toResult, err := e.SyncToExternal(ctx, principalID)
	if err != nil {
		e.log.Warn("outbound sync failed", zap.String("principal_id", principalID), zap.Error(err))
	}
	combined.ToExternal = toResult

	return combined, nil
}

// BulkSync pulls a list of external IDs sequentially. Individual failures are
// captured in their Result and do not stop the batch.
func (e *Engine) BulkSync(ctx context.Context, externalIDs []string, opts Options) []*Result {
	results := make([]*Result, 0, len(externalIDs))
	for _, externalID := range externalIDs {
		result, err := e.SyncFromExternal(ctx, externalID, opts)
		if err != nil {
			e.log.Warn("bulk sync entry failed", zap.String("external_id", externalID), zap.Error(err))
		}
		if result != nil {
			results = append(results, result)
		}
	}
	return results
}

// Records lists the newest sync attempts for a principal, most recent first.
func (e *Engine) Records(ctx context.Context, principalID string, limit int) ([]models.SyncRecord, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, errors.New("sync: principal id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var records []models.SyncRecord
	if err := e.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sync: list records: %w", err)
	}
	return records, nil
}

// CleanupOlderThan removes sync records past the retention window (in days).
func (e *Engine) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("sync: retentionDays must be positive")
	}

	cutoff := e.now().AddDate(0, 0, -retentionDays)
	result := e.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.SyncRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("sync: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// provision creates a local principal plus default preferences for an external
// user seen for the first time.
func (e *Engine) provision(ctx context.Context, external *identity.ExternalUser) (*models.Principal, error) {
	role := models.RoleUser
	if raw, ok := external.Metadata["role"].(string); ok {
		if parsed, err := models.ParseRole(raw); err == nil {
			role = parsed
		}
	}

	principal := &models.Principal{
		ExternalID:    external.ID,
		Email:         external.Email,
		FirstName:     external.FirstName,
		LastName:      external.LastName,
		Avatar:        external.AvatarURL,
		Role:          role,
		Status:        models.PrincipalStatusActive,
		EmailVerified: external.EmailVerified,
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(principal).Error; err != nil {
			return fmt.Errorf("sync: provision principal: %w", err)
		}
		prefs := &models.PrincipalPreferences{
			PrincipalID: principal.ID,
			Preferences: []byte(models.DefaultPreferences),
		}
		if err := tx.Create(prefs).Error; err != nil {
			return fmt.Errorf("sync: provision preferences: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return principal, nil
}

// diffFromExternal computes the column updates needed to match the external
// profile. Empty external values never clobber populated local ones.
func (e *Engine) diffFromExternal(principal *models.Principal, external *identity.ExternalUser) map[string]any {
	updates := map[string]any{}

	if external.Email != "" && external.Email != principal.Email {
		updates["email"] = external.Email
	}
	if external.FirstName != "" && external.FirstName != principal.FirstName {
		updates["first_name"] = external.FirstName
	}
	if external.LastName != "" && external.LastName != principal.LastName {
		updates["last_name"] = external.LastName
	}
	if external.AvatarURL != "" && external.AvatarURL != principal.Avatar {
		updates["avatar"] = external.AvatarURL
	}
	if external.EmailVerified != principal.EmailVerified {
		updates["email_verified"] = external.EmailVerified
	}
	if external.TwoFactor != principal.TwoFactorEnabled {
		updates["two_factor_enabled"] = external.TwoFactor
	}
	if raw, ok := external.Metadata["role"].(string); ok {
		if parsed, err := models.ParseRole(raw); err == nil && parsed != principal.Role {
			updates["role"] = parsed
		}
	}

	return updates
}

func (e *Engine) preferenceSummary(ctx context.Context, principalID string) map[string]any {
	var prefs models.PrincipalPreferences
	if err := e.db.WithContext(ctx).Take(&prefs, "principal_id = ?", principalID).Error; err != nil {
		return nil
	}

	var summary map[string]any
	if err := json.Unmarshal(prefs.Preferences, &summary); err != nil {
		return nil
	}
	return summary
}

// finish stamps the result, appends the SyncRecord row, and bumps the metric.
// Recording is best-effort: a failed audit write never fails the sync itself.
func (e *Engine) finish(ctx context.Context, result *Result, started time.Time, opErr error) {
	result.DurationMS = e.now().Sub(started).Milliseconds()
	result.Success = opErr == nil && (len(result.Conflicts) == 0 || result.ConflictsSkipped)
	if opErr != nil {
		result.Error = opErr.Error()
	}

	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	metrics.ProfileSyncs.WithLabelValues(result.Direction, outcome).Inc()

	// Attempts that failed before a principal was resolved have no row to
	// attach the record to.
	if result.PrincipalID == "" {
		return
	}

	record := models.SyncRecord{
		PrincipalID: result.PrincipalID,
		Direction:   result.Direction,
		Success:     result.Success,
		Error:       result.Error,
		DurationMS:  result.DurationMS,
	}
	if encoded, err := json.Marshal(result.Changes); err == nil {
		record.Changes = encoded
	}
	if len(result.Conflicts) > 0 {
		if encoded, err := json.Marshal(result.Conflicts); err == nil {
			record.Conflicts = encoded
		}
	}

	if err := e.db.WithContext(ctx).Create(&record).Error; err != nil {
		e.log.Warn("sync record dropped", zap.String("principal_id", result.PrincipalID), zap.Error(err))
	}
}
