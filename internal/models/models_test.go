package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoleOrdering(t *testing.T) {
	require.True(t, RoleAdmin.AtLeast(RoleEditor))
	require.True(t, RoleAdmin.AtLeast(RoleAdmin))
	require.True(t, RoleEditor.AtLeast(RoleUser))
	require.False(t, RoleUser.AtLeast(RoleEditor))
	require.False(t, Role("OWNER").AtLeast(RoleUser))
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" editor ")
	require.NoError(t, err)
	require.Equal(t, RoleEditor, role)

	_, err = ParseRole("superuser")
	require.Error(t, err)
}

func TestSessionLive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := Session{IsActive: true, ExpiresAt: now.Add(time.Hour)}
	require.True(t, s.Live(now))

	s.ExpiresAt = now.Add(-time.Minute)
	require.False(t, s.Live(now))

	s.ExpiresAt = now.Add(time.Hour)
	s.IsActive = false
	require.False(t, s.Live(now))
}
