package models

import "gorm.io/datatypes"

// PrincipalPreferences holds per-principal application preferences, created
// with defaults when sync provisions a new principal. The JSON blob is
// summarized into identity-provider metadata on outbound sync.
type PrincipalPreferences struct {
	BaseModel

	PrincipalID string         `gorm:"type:uuid;uniqueIndex;not null" json:"principal_id"`
	Preferences datatypes.JSON `json:"preferences"`
}

// DefaultPreferences is the blob stored for newly provisioned principals.
const DefaultPreferences = `{"theme":"system","editor_font":"serif","email_digest":true}`
