package identitytest

import (
	"context"
	"sync"

	"github.com/inkwell-hq/inkwell/internal/identity"
)

// Fake is an in-memory identity.Provider for tests. Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	users    map[string]*identity.ExternalUser
	sessions map[string][]identity.ExternalSession

	// Err, when set, is returned by every call to simulate an unreachable provider.
	Err error

	// Calls records method names in invocation order.
	Calls []string
}

// NewFake returns an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		users:    make(map[string]*identity.ExternalUser),
		sessions: make(map[string][]identity.ExternalSession),
	}
}

// PutUser seeds or replaces a provider-side user record.
func (f *Fake) PutUser(user identity.ExternalUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cpy := user
	f.users[user.ID] = &cpy
}

// User returns the current provider-side record, or nil.
func (f *Fake) User(externalID string) *identity.ExternalUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[externalID]; ok {
		cpy := *u
		return &cpy
	}
	return nil
}

// PutSession seeds a provider-side session.
func (f *Fake) PutSession(externalID string, session identity.ExternalSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[externalID] = append(f.sessions[externalID], session)
}

func (f *Fake) GetUser(ctx context.Context, externalID string) (*identity.ExternalUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "GetUser")

	if f.Err != nil {
		return nil, f.Err
	}
	user, ok := f.users[externalID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cpy := *user
	return &cpy, nil
}

func (f *Fake) UpdateUser(ctx context.Context, externalID string, update identity.UserUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "UpdateUser")

	if f.Err != nil {
		return f.Err
	}
	user, ok := f.users[externalID]
	if !ok {
		return identity.ErrUserNotFound
	}
	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	return nil
}

func (f *Fake) UpdateUserMetadata(ctx context.Context, externalID string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "UpdateUserMetadata")

	if f.Err != nil {
		return f.Err
	}
	user, ok := f.users[externalID]
	if !ok {
		return identity.ErrUserNotFound
	}
	user.Metadata = metadata
	return nil
}

func (f *Fake) ListSessions(ctx context.Context, externalID string) ([]identity.ExternalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "ListSessions")

	if f.Err != nil {
		return nil, f.Err
	}
	return append([]identity.ExternalSession(nil), f.sessions[externalID]...), nil
}

func (f *Fake) RevokeSession(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "RevokeSession")

	if f.Err != nil {
		return f.Err
	}
	for externalID, sessions := range f.sessions {
		kept := sessions[:0]
		for _, s := range sessions {
			if s.Token != token {
				kept = append(kept, s)
			}
		}
		f.sessions[externalID] = kept
	}
	return nil
}
