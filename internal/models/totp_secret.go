package models

import "time"

// TOTPSecret stores the AES-256-GCM encrypted TOTP secret for a principal in a
// dedicated table, separate from profile metadata. At most one live secret
// exists per principal; disabling two-factor deletes the row.
type TOTPSecret struct {
	BaseModel

	PrincipalID string `gorm:"type:uuid;uniqueIndex;not null" json:"principal_id"`
	Secret      string `gorm:"not null" json:"-"`

	// LastStep records the most recent accepted TOTP time-step so a captured
	// code cannot be replayed inside the verification window.
	LastStep   int64      `gorm:"default:0" json:"-"`
	LastUsedAt *time.Time `json:"last_used_at"`
}
