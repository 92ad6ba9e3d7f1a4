package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session termination reasons. Ended sessions keep their rows for audit
// continuity; IsActive is monotonic and never flips back to true.
const (
	SessionEndUserLogout      = "user_logout"
	SessionEndManualRemoval   = "manual_removal"
	SessionEndSecurityRevoked = "security_revocation"
	SessionEndConcurrentLimit = "policy_violation_concurrent_limit"
	SessionEndStale           = "policy_violation_stale"
	SessionEndExpired         = "expired"
)

// Session tracks a single authenticated device/browser for a principal.
type Session struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	PrincipalID string     `gorm:"type:uuid;not null;index" json:"principal_id"`
	Principal   *Principal `gorm:"foreignKey:PrincipalID" json:"principal,omitempty"`

	Token     string `gorm:"uniqueIndex;not null" json:"-"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	IsActive     bool       `gorm:"not null;default:true;index" json:"is_active"`
	EndedAt      *time.Time `json:"ended_at"`
	EndReason    string     `json:"end_reason,omitempty"`
	ExpiresAt    time.Time  `gorm:"index" json:"expires_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Live reports whether the session is active and unexpired at the given time.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}
