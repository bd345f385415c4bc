package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tally/internal/auth"
	"tally/internal/core"
	"tally/internal/storage"
)

func newUserService(t *testing.T) (*UserService, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewUserService(repo, testLogger()), repo
}

func TestUserRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "Alice A", "alice@example.com", "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	require.Equal(t, core.RoleUser, u.Role)
	require.EqualValues(t, 0, u.Balance.Cents)
	require.NotEqual(t, "correct horse", u.PasswordHash)

	got, err := svc.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "alice", "wrong password")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "correct horse")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestUserRegisterValidation(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "", "", "", "long enough password")
	require.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = svc.Register(ctx, "alice", "", "", "short")
	require.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = svc.Register(ctx, "alice", "", "", "long enough password")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "alice", "", "", "another password")
	require.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestUserSetRole(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "", "", "long enough password")
	require.NoError(t, err)

	promoted, err := svc.SetRole(ctx, "alice", core.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, core.RoleAdmin, promoted.Role)

	got, err := svc.GetByID(ctx, promoted.ID)
	require.NoError(t, err)
	require.Equal(t, core.RoleAdmin, got.Role)

	demoted, err := svc.SetRole(ctx, "alice", core.RoleUser)
	require.NoError(t, err)
	require.Equal(t, core.RoleUser, demoted.Role)

	_, err = svc.SetRole(ctx, "alice", core.Role("owner"))
	require.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = svc.SetRole(ctx, "nobody", core.RoleAdmin)
	require.True(t, errors.Is(err, core.ErrNotFound))
}

func TestUserDelete(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "", "", "long enough password")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "alice"))
	_, err = svc.GetByID(ctx, u.ID)
	require.True(t, errors.Is(err, core.ErrNotFound))

	require.True(t, errors.Is(svc.Delete(ctx, "alice"), core.ErrNotFound))
}
