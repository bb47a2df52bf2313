//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/identity"
	pgutil "github.com/bissquit/authkeeper/internal/pkg/postgres"
	"github.com/bissquit/authkeeper/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pg, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	if err := pgutil.Migrate(pg.ConnectionString, "../../../migrations"); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pg.ConnectionString)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}

	code := m.Run()

	testDB.Close()
	if err := pg.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

func createUser(t *testing.T, repo *Repository, login string, roles ...domain.RoleName) *domain.User {
	t.Helper()
	ctx := context.Background()

	user := &domain.User{Login: login, Email: login + "@example.com", Password: "hash"}
	for _, name := range roles {
		role, err := repo.GetRoleByName(ctx, name)
		require.NoError(t, err)
		user.Roles = append(user.Roles, *role)
	}
	require.NoError(t, repo.CreateUser(ctx, user))
	return user
}

func TestRepository_CreateAndGetUser(t *testing.T) {
	repo := NewRepository(testDB)
	ctx := context.Background()

	user := createUser(t, repo, "repo-alice", domain.RoleUser, domain.RoleAdmin)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())

	byLogin, err := repo.GetUserByLogin(ctx, "repo-alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byLogin.ID)
	assert.Equal(t, []domain.RoleName{domain.RoleUser, domain.RoleAdmin}, byLogin.RoleNames())

	byID, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "repo-alice", byID.Login)

	_, err = repo.GetUserByLogin(ctx, "repo-nobody")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestRepository_CreateUserConflicts(t *testing.T) {
	repo := NewRepository(testDB)
	ctx := context.Background()
	createUser(t, repo, "repo-dup", domain.RoleUser)

	err := repo.CreateUser(ctx, &domain.User{Login: "repo-dup", Email: "other@example.com", Password: "hash"})
	assert.ErrorIs(t, err, identity.ErrUserExists)

	err = repo.CreateUser(ctx, &domain.User{Login: "repo-dup2", Email: "repo-dup@example.com", Password: "hash"})
	assert.ErrorIs(t, err, identity.ErrUserExists)

	exists, err := repo.ExistsByLogin(ctx, "repo-dup")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRepository_SeededRoles(t *testing.T) {
	repo := NewRepository(testDB)

	for _, name := range domain.AllRoleNames() {
		role, err := repo.GetRoleByName(context.Background(), name)
		require.NoError(t, err, name)
		assert.Equal(t, name, role.Name)
	}

	_, err := repo.GetRoleByName(context.Background(), "ROOT")
	assert.ErrorIs(t, err, identity.ErrRoleNotFound)
}

func TestRepository_RefreshTokens(t *testing.T) {
	repo := NewRepository(testDB)
	ctx := context.Background()
	user := createUser(t, repo, "repo-tokens", domain.RoleUser)
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := &domain.RefreshToken{UserID: user.ID, Token: "token-one", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, repo.SaveRefreshToken(ctx, first))

	got, err := repo.GetRefreshToken(ctx, "token-one")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)
	assert.True(t, first.ExpiresAt.Equal(got.ExpiresAt))

	second := &domain.RefreshToken{UserID: user.ID, Token: "token-two", ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now}
	require.NoError(t, repo.SaveRefreshToken(ctx, second))

	_, err = repo.GetRefreshToken(ctx, "token-one")
	assert.ErrorIs(t, err, identity.ErrRefreshTokenNotFound, "previous token replaced")

	var count int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT COUNT(*) FROM refresh_token WHERE user_id = $1`, user.ID).Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, repo.DeleteRefreshToken(ctx, "token-two"))
	_, err = repo.GetRefreshToken(ctx, "token-two")
	assert.ErrorIs(t, err, identity.ErrRefreshTokenNotFound)

	require.NoError(t, repo.SaveRefreshToken(ctx, first))
	require.NoError(t, repo.DeleteUserRefreshTokens(ctx, user.ID))
	require.NoError(t, repo.DeleteUserRefreshTokens(ctx, user.ID))
	_, err = repo.GetRefreshToken(ctx, "token-one")
	assert.ErrorIs(t, err, identity.ErrRefreshTokenNotFound)
}
