package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role orders principal privileges from least to most powerful.
type Role string

const (
	RoleUser   Role = "USER"
	RoleEditor Role = "EDITOR"
	RoleAdmin  Role = "ADMIN"
)

// Rank returns the position of the role in the USER < EDITOR < ADMIN ordering.
// Unknown roles rank below USER so they never satisfy a guard.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether the role meets or exceeds the required role.
func (r Role) AtLeast(required Role) bool {
	return r.Rank() >= required.Rank()
}

// ParseRole normalises and validates a role value.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	switch role {
	case RoleUser, RoleEditor, RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("invalid role %q", value)
	}
}

// Principal lifecycle statuses. Principals are never hard-deleted; deletion is
// a terminal status transition.
const (
	PrincipalStatusActive    = "ACTIVE"
	PrincipalStatusSuspended = "SUSPENDED"
	PrincipalStatusDeleted   = "DELETED"
)

// Principal is the application's record of an authenticated user, mirrored
// partially to and from the external identity provider.
type Principal struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalID string `gorm:"uniqueIndex;not null" json:"external_id"`
	Email      string `gorm:"uniqueIndex;not null" json:"email"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`

	Role   Role   `gorm:"type:varchar(16);not null;default:USER" json:"role"`
	Status string `gorm:"type:varchar(16);not null;default:ACTIVE" json:"status"`

	EmailVerified    bool `gorm:"default:false" json:"email_verified"`
	TwoFactorEnabled bool `gorm:"default:false" json:"two_factor_enabled"`

	TOTPSecret  *TOTPSecret  `gorm:"foreignKey:PrincipalID" json:"-"`
	BackupCodes []BackupCode `gorm:"foreignKey:PrincipalID" json:"-"`
	Sessions    []Session    `gorm:"foreignKey:PrincipalID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (p *Principal) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
