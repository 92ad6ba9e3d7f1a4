package identity

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Provider implementations.
var (
	// ErrUserNotFound indicates the identity provider has no record for the ID.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrUnavailable marks transport failures and provider-side errors.
	ErrUnavailable = errors.New("identity: provider unavailable")
)

// ExternalUser is the identity provider's view of a principal.
type ExternalUser struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	FirstName     string         `json:"first_name"`
	LastName      string         `json:"last_name"`
	AvatarURL     string         `json:"avatar_url"`
	EmailVerified bool           `json:"email_verified"`
	TwoFactor     bool           `json:"two_factor_enabled"`
	Metadata      map[string]any `json:"metadata"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// UserUpdate carries the local fields pushed to the provider. Nil pointers
// leave the remote value untouched.
type UserUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// ExternalSession mirrors a provider-side session record.
type ExternalSession struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider is the external identity provider API consumed by the security
// core. Implementations must honour context deadlines; callers treat a failed
// call as wholly failed and never half-apply local state.
type Provider interface {
	GetUser(ctx context.Context, externalID string) (*ExternalUser, error)
	UpdateUser(ctx context.Context, externalID string, update UserUpdate) error
	UpdateUserMetadata(ctx context.Context, externalID string, metadata map[string]any) error
	ListSessions(ctx context.Context, externalID string) ([]ExternalSession, error)
	RevokeSession(ctx context.Context, token string) error
}
