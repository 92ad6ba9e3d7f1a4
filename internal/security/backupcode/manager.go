package backupcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/pkg/crypto"
)

const (
	// DefaultCodeCount is the size of a generated backup code set.
	DefaultCodeCount = 10
	// CodeLength is the number of characters in each code.
	CodeLength = 8

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Manager generates, stores, and consumes single-use backup codes.
type Manager struct {
	db    *gorm.DB
	count int
	now   func() time.Time
}

// Option customises the Manager.
type Option func(*Manager)

// WithCodeCount overrides the number of codes per generation.
func WithCodeCount(count int) Option {
	return func(m *Manager) {
		if count > 0 {
			m.count = count
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewManager constructs a backup code manager backed by the provided database.
func NewManager(db *gorm.DB, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("backupcode: db is required")
	}

	manager := &Manager{
		db:    db,
		count: DefaultCodeCount,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager, nil
}

// Replace discards any existing code set and stores a fresh one. The plaintext
// codes are returned exactly once and never persisted.
func (m *Manager) Replace(ctx context.Context, principalID string) ([]string, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, errors.New("backupcode: principal id is required")
	}

	plaintexts := make([]string, m.count)
	rows := make([]models.BackupCode, m.count)
	for i := range plaintexts {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("backupcode: generate code: %w", err)
		}
		hash, err := crypto.HashSecret(code)
		if err != nil {
			return nil, fmt.Errorf("backupcode: hash code: %w", err)
		}
		plaintexts[i] = code
		rows[i] = models.BackupCode{
			PrincipalID: principalID,
			CodeHash:    hash,
		}
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("principal_id = ?", principalID).Delete(&models.BackupCode{}).Error; err != nil {
			return fmt.Errorf("backupcode: discard old set: %w", err)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("backupcode: store new set: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return plaintexts, nil
}

// Verify consumes a backup code. The used flag flips under a guarded update so
// two concurrent requests holding the same code cannot both succeed.
func (m *Manager) Verify(ctx context.Context, principalID, candidate string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	candidate = strings.ToUpper(strings.TrimSpace(candidate))
	if principalID == "" || candidate == "" {
		return false, errors.New("backupcode: principal id and candidate are required")
	}

	var codes []models.BackupCode
	if err := m.db.WithContext(ctx).
		Where("principal_id = ? AND used = ?", principalID, false).
		Find(&codes).Error; err != nil {
		return false, fmt.Errorf("backupcode: load codes: %w", err)
	}

	for i := range codes {
		if !crypto.VerifySecret(codes[i].CodeHash, candidate) {
			continue
		}

		now := m.now()
		result := m.db.WithContext(ctx).
			Model(&models.BackupCode{}).
			Where("id = ? AND used = ?", codes[i].ID, false).
			Updates(map[string]any{"used": true, "used_at": &now})
		if result.Error != nil {
			return false, fmt.Errorf("backupcode: mark used: %w", result.Error)
		}
		// A concurrent request won the race for this code.
		if result.RowsAffected == 0 {
			return false, nil
		}
		return true, nil
	}

	return false, nil
}

// Remaining counts the unused codes held by a principal.
func (m *Manager) Remaining(ctx context.Context, principalID string) (int, error) {
	var count int64
	if err := m.db.WithContext(ctx).
		Model(&models.BackupCode{}).
		Where("principal_id = ? AND used = ?", strings.TrimSpace(principalID), false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("backupcode: count remaining: %w", err)
	}
	return int(count), nil
}

// Invalidate removes the entire code set, used and unused.
func (m *Manager) Invalidate(ctx context.Context, principalID string) error {
	if err := m.db.WithContext(ctx).
		Where("principal_id = ?", strings.TrimSpace(principalID)).
		Delete(&models.BackupCode{}).Error; err != nil {
		return fmt.Errorf("backupcode: invalidate: %w", err)
	}
	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
