package models

import "time"

// BackupCode is a single-use recovery credential. One row per code; the
// plaintext is returned to the caller once at generation and only the bcrypt
// hash is stored. Used transitions false -> true exactly once.
type BackupCode struct {
	BaseModel

	PrincipalID string `gorm:"type:uuid;not null;index" json:"principal_id"`
	CodeHash    string `gorm:"not null" json:"-"`

	Used   bool       `gorm:"not null;default:false" json:"used"`
	UsedAt *time.Time `json:"used_at"`
}
