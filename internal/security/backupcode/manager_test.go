package backupcode

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/internal/database/testutil"
	"github.com/inkwell-hq/inkwell/internal/models"
)

func TestReplaceGeneratesSet(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	manager, err := NewManager(db)
	require.NoError(t, err)

	codes, err := manager.Replace(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, codes, DefaultCodeCount)

	for _, code := range codes {
		require.Len(t, code, CodeLength)
		require.Equal(t, strings.ToUpper(code), code)
	}

	var stored []models.BackupCode
	require.NoError(t, db.Where("principal_id = ?", "p-1").Find(&stored).Error)
	require.Len(t, stored, DefaultCodeCount)
	for _, row := range stored {
		require.False(t, row.Used)
		require.NotContains(t, codes, row.CodeHash)
	}
}

func TestVerifyConsumesCodeOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	manager, err := NewManager(db)
	require.NoError(t, err)

	ctx := context.Background()
	codes, err := manager.Replace(ctx, "p-1")
	require.NoError(t, err)

	ok, err := manager.Verify(ctx, "p-1", codes[0])
	require.NoError(t, err)
	require.True(t, ok)

	// Single-use: the same code never verifies twice.
	ok, err = manager.Verify(ctx, "p-1", codes[0])
	require.NoError(t, err)
	require.False(t, ok)

	remaining, err := manager.Remaining(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, DefaultCodeCount-1, remaining)
}

func TestVerifyRejectsUnknownCode(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	manager, err := NewManager(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = manager.Replace(ctx, "p-1")
	require.NoError(t, err)

	ok, err := manager.Verify(ctx, "p-1", "NOTACODE")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyScopedToPrincipal(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	manager, err := NewManager(db)
	require.NoError(t, err)

	ctx := context.Background()
	codes, err := manager.Replace(ctx, "p-1")
	require.NoError(t, err)

	ok, err := manager.Verify(ctx, "p-2", codes[0])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReplaceDiscardsOldSet(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	manager, err := NewManager(db, WithCodeCount(4))
	require.NoError(t, err)

	ctx := context.Background()
	oldCodes, err := manager.Replace(ctx, "p-1")
	require.NoError(t, err)

	newCodes, err := manager.Replace(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, newCodes, 4)

	ok, err := manager.Verify(ctx, "p-1", oldCodes[0])
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = manager.Verify(ctx, "p-1", newCodes[0])
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInvalidateRemovesAll(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	manager, err := NewManager(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = manager.Replace(ctx, "p-1")
	require.NoError(t, err)

	require.NoError(t, manager.Invalidate(ctx, "p-1"))

	remaining, err := manager.Remaining(ctx, "p-1")
	require.NoError(t, err)
	require.Zero(t, remaining)
}
