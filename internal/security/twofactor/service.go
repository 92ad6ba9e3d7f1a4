package twofactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/backupcode"
	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/internal/security/totp"
	"github.com/inkwell-hq/inkwell/pkg/crypto"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

// Verification methods accepted by Verify.
const (
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
)

// DefaultIssuer labels provisioning URIs when no issuer is configured.
const DefaultIssuer = "Inkwell"

var (
	// ErrAlreadyEnabled indicates two-factor is already active for the principal.
	ErrAlreadyEnabled = errors.New("twofactor: already enabled")
	// ErrNotEnabled indicates the principal has no active two-factor enrolment.
	ErrNotEnabled = errors.New("twofactor: not enabled")
	// ErrPrincipalNotFound indicates the principal does not exist.
	ErrPrincipalNotFound = errors.New("twofactor: principal not found")
	// ErrUnknownMethod indicates an unsupported verification method.
	ErrUnknownMethod = errors.New("twofactor: unknown verification method")
)

// Enrollment is returned exactly once from Enable. The secret and backup codes
// are never retrievable again.
type Enrollment struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	QRCodePNG       []byte   `json:"qr_code_png,omitempty"`
	BackupCodes     []string `json:"backup_codes"`
}

// Status summarises a principal's two-factor state without exposing secrets.
type Status struct {
	Enabled              bool       `json:"enabled"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
}

// Service manages the two-factor lifecycle: enrolment, verification with
// replay protection, backup code rotation, and teardown.
type Service struct {
	db      *gorm.DB
	engine  *totp.Engine
	backups *backupcode.Manager
	events  *events.Service

	encryptionKey []byte
	issuer        string
	now           func() time.Time
	log           *zap.Logger
}

// Option customises the Service.
type Option func(*Service)

// WithIssuer overrides the issuer embedded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = strings.TrimSpace(issuer)
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewService constructs the two-factor service. The encryption key protects
// stored TOTP secrets and must be 32 bytes (AES-256).
func NewService(db *gorm.DB, engine *totp.Engine, backups *backupcode.Manager, eventLog *events.Service, encryptionKey []byte, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("twofactor: db is required")
	}
	if engine == nil {
		return nil, errors.New("twofactor: totp engine is required")
	}
	if backups == nil {
		return nil, errors.New("twofactor: backup code manager is required")
	}
	if eventLog == nil {
		return nil, errors.New("twofactor: event log is required")
	}
	if len(encryptionKey) != 32 {
		return nil, errors.New("twofactor: encryption key must be 32 bytes")
	}

	service := &Service{
		db:            db,
		engine:        engine,
		backups:       backups,
		events:        eventLog,
		encryptionKey: encryptionKey,
		issuer:        DefaultIssuer,
		now:           time.Now,
		log:           logger.WithModule("twofactor"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Enable enrols a principal: generates a secret, stores it encrypted, issues
// backup codes, and flips the two-factor flag. The plaintext secret, QR code,
// and backup codes in the returned Enrollment are shown once and never again.
func (s *Service) Enable(ctx context.Context, principalID string) (*Enrollment, error) {
	principal, err := s.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if principal.TwoFactorEnabled {
		return nil, ErrAlreadyEnabled
	}

	secret, err := s.engine.GenerateSecret()
	if err != nil {
		return nil, err
	}
	encrypted, err := crypto.Encrypt([]byte(secret), s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("twofactor: encrypt secret: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A stale row from an abandoned enrolment gets replaced outright.
		if err := tx.Where("principal_id = ?", principal.ID).Delete(&models.TOTPSecret{}).Error; err != nil {
			return fmt.Errorf("twofactor: clear stale secret: %w", err)
		}
		if err := tx.Create(&models.TOTPSecret{PrincipalID: principal.ID, Secret: encrypted}).Error; err != nil {
			return fmt.Errorf("twofactor: store secret: %w", err)
		}
		if err := tx.Model(&models.Principal{}).
			Where("id = ?", principal.ID).
			Update("two_factor_enabled", true).Error; err != nil {
			return fmt.Errorf("twofactor: enable flag: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	codes, err := s.backups.Replace(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	uri := s.engine.ProvisioningURI(s.issuer, principal.Email, secret)
	png, err := s.engine.QRCode(uri)
	if err != nil {
		// The URI alone is enough to enrol; a QR render failure is not fatal.
		s.log.Warn("qr code render failed", zap.String("principal_id", principal.ID), zap.Error(err))
		png = nil
	}

	s.events.RecordBestEffort(ctx, events.Entry{
		PrincipalID: principal.ID,
		Kind:        models.EventTwoFactorEnabled,
		Metadata:    map[string]any{"backup_codes_issued": len(codes)},
	})

	return &Enrollment{
		Secret:          secret,
		ProvisioningURI: uri,
		QRCodePNG:       png,
		BackupCodes:     codes,
	}, nil
}

// Disable tears down two-factor: removes the stored secret, invalidates every
// backup code, and clears the flag.
func (s *Service) Disable(ctx context.Context, principalID string) error {
	principal, err := s.loadPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if !principal.TwoFactorEnabled {
		return ErrNotEnabled
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("principal_id = ?", principal.ID).Delete(&models.TOTPSecret{}).Error; err != nil {
			return fmt.Errorf("twofactor: delete secret: %w", err)
		}
		if err := tx.Where("principal_id = ?", principal.ID).Delete(&models.BackupCode{}).Error; err != nil {
			return fmt.Errorf("twofactor: delete backup codes: %w", err)
		}
		if err := tx.Model(&models.Principal{}).
			Where("id = ?", principal.ID).
			Update("two_factor_enabled", false).Error; err != nil {
			return fmt.Errorf("twofactor: disable flag: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.RecordBestEffort(ctx, events.Entry{
		PrincipalID: principal.ID,
		Kind:        models.EventTwoFactorDisabled,
	})
	return nil
}

// Verify checks a TOTP code or backup code for an enrolled principal. TOTP
// verifications track the accepted time-step, so a code captured in transit
// cannot be replayed even inside the drift window.
func (s *Service) Verify(ctx context.Context, principalID, code, method string) (bool, error) {
	principal, err := s.loadPrincipal(ctx, principalID)
	if err != nil {
		return false, err
	}
	if !principal.TwoFactorEnabled {
		return false, ErrNotEnabled
	}

	var ok bool
	switch method {
	case MethodTOTP:
		ok, err = s.verifyTOTP(ctx, principal.ID, code)
	case MethodBackupCode:
		ok, err = s.backups.Verify(ctx, principal.ID, code)
	default:
		return false, ErrUnknownMethod
	}
	if err != nil {
		return false, err
	}

	result := "failure"
	if ok {
		result = "success"
	}
	metrics.TwoFactorVerifications.WithLabelValues(method, result).Inc()

	s.events.RecordBestEffort(ctx, events.Entry{
		PrincipalID: principal.ID,
		Kind:        models.EventTwoFactorVerified,
		Metadata:    map[string]any{"method": method, "result": result},
	})

	return ok, nil
}

// RegenerateBackupCodes replaces the backup code set. The new plaintext codes
// are returned once; the previous set is dead immediately.
func (s *Service) RegenerateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	principal, err := s.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !principal.TwoFactorEnabled {
		return nil, ErrNotEnabled
	}

	codes, err := s.backups.Replace(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	s.events.RecordBestEffort(ctx, events.Entry{
		PrincipalID: principal.ID,
		Kind:        models.EventBackupCodesRegenerated,
		Metadata:    map[string]any{"backup_codes_issued": len(codes)},
	})
	return codes, nil
}

// GetStatus reports whether two-factor is enabled and how many backup codes
// remain unused.
func (s *Service) GetStatus(ctx context.Context, principalID string) (*Status, error) {
	principal, err := s.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !principal.TwoFactorEnabled {
		return &Status{}, nil
	}

	remaining, err := s.backups.Remaining(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	status := &Status{Enabled: true, RemainingBackupCodes: remaining}
	var secret models.TOTPSecret
	if err := s.db.WithContext(ctx).Take(&secret, "principal_id = ?", principal.ID).Error; err == nil {
		status.LastUsedAt = secret.LastUsedAt
	}
	return status, nil
}

func (s *Service) verifyTOTP(ctx context.Context, principalID, code string) (bool, error) {
	var row models.TOTPSecret
	if err := s.db.WithContext(ctx).Take(&row, "principal_id = ?", principalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotEnabled
		}
		return false, fmt.Errorf("twofactor: load secret: %w", err)
	}

	plaintext, err := crypto.Decrypt(row.Secret, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("twofactor: decrypt secret: %w", err)
	}

	ok, step, err := s.engine.Verify(string(plaintext), code, s.now())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	// Guarded advance of the step watermark. Losing the race means another
	// request already consumed this step, which makes ours a replay.
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.TOTPSecret{}).
		Where("id = ? AND last_step < ?", row.ID, step).
		Updates(map[string]any{"last_step": step, "last_used_at": &now})
	if result.Error != nil {
		return false, fmt.Errorf("twofactor: advance step: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) loadPrincipal(ctx context.Context, principalID string) (*models.Principal, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, errors.New("twofactor: principal id is required")
	}

	var principal models.Principal
	if err := s.db.WithContext(ctx).Take(&principal, "id = ?", principalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("twofactor: load principal: %w", err)
	}
	return &principal, nil
}
