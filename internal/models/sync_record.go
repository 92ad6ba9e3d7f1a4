package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Sync directions for SyncRecord.
const (
	SyncDirectionFromExternal = "from_external"
	SyncDirectionToExternal   = "to_external"
)

// SyncRecord captures one profile synchronization attempt, success or failure.
// Append-only, one row per attempt.
type SyncRecord struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	PrincipalID string         `gorm:"type:uuid;not null;index" json:"principal_id"`
	Direction   string         `gorm:"not null;index" json:"direction"`
	Success     bool           `gorm:"not null" json:"success"`
	Changes     datatypes.JSON `json:"changes"`
	Conflicts   datatypes.JSON `json:"conflicts"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (r *SyncRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
