package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Security event kinds recorded by the core. The log is append-only: rows are
// never updated after creation.
const (
	EventSessionCreated         = "session_created"
	EventSessionEnded           = "session_ended"
	EventSuspiciousLogin        = "suspicious_login"
	EventSecurityAlertSent      = "security_alert_sent"
	EventSecurityPolicyEnforced = "security_policy_enforced"
	EventTwoFactorEnabled       = "two_factor_enabled"
	EventTwoFactorDisabled      = "two_factor_disabled"
	EventTwoFactorVerified      = "two_factor_verified"
	EventBackupCodesRegenerated = "backup_codes_regenerated"
)

// SecurityEvent is an immutable audit record consumed by dashboards and by
// the suspicious-login detector's lookback window.
type SecurityEvent struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	PrincipalID string         `gorm:"type:uuid;not null;index" json:"principal_id"`
	Kind        string         `gorm:"not null;index" json:"kind"`
	IPAddress   string         `json:"ip_address"`
	UserAgent   string         `json:"user_agent"`
	Metadata    datatypes.JSON `json:"metadata"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
