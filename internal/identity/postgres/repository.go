// Package postgres provides PostgreSQL implementation of the identity repository
// and refresh token store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/identity"
	pgutil "github.com/bissquit/authkeeper/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements identity.Repository and identity.RefreshTokenStore using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateUser inserts the user together with its role assignments.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	query := `
		INSERT INTO users (login, email, password)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query, user.Login, user.Email, user.Password).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pgutil.IsUniqueViolation(err) {
			return identity.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}

	for _, role := range user.Roles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_to_role (user_id, role_id) VALUES ($1, $2)`,
			user.ID, role.ID,
		); err != nil {
			return fmt.Errorf("assign role %s: %w", role.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user and its roles by ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, "id", id)
}

// GetUserByLogin retrieves a user and its roles by login.
func (r *Repository) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	return r.getUser(ctx, "login", login)
}

func (r *Repository) getUser(ctx context.Context, column, value string) (*domain.User, error) {
	query := `
		SELECT id, login, email, password, created_at, updated_at
		FROM users
		WHERE ` + column + ` = $1
	`
	var user domain.User
	err := r.db.QueryRow(ctx, query, value).Scan(
		&user.ID,
		&user.Login,
		&user.Email,
		&user.Password,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}

	user.Roles, err = r.listRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) listRoles(ctx context.Context, userID string) ([]domain.Role, error) {
	query := `
		SELECT r.id, r.name
		FROM user_role r
		JOIN user_to_role ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]domain.Role, 0)
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// ExistsByLogin reports whether a user with the login exists.
func (r *Repository) ExistsByLogin(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE login = $1)`, login).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check login exists: %w", err)
	}
	return exists, nil
}

// ExistsByEmail reports whether a user with the email exists.
func (r *Repository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

// GetRoleByName retrieves a role reference row.
func (r *Repository) GetRoleByName(ctx context.Context, name domain.RoleName) (*domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRow(ctx, `SELECT id, name FROM user_role WHERE name = $1`, string(name)).
		Scan(&role.ID, &role.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrRoleNotFound
		}
		return nil, fmt.Errorf("get role by name: %w", err)
	}
	return &role, nil
}

// SaveRefreshToken stores the token, replacing the user's previous one in the same statement.
func (r *Repository) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	query := `
		INSERT INTO refresh_token (user_id, token, expiry_date, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token,
		    expiry_date = EXCLUDED.expiry_date,
		    created_at = EXCLUDED.created_at
	`
	_, err := r.db.Exec(ctx, query, token.UserID, token.Token, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken retrieves a refresh token by value.
func (r *Repository) GetRefreshToken(ctx context.Context, value string) (*domain.RefreshToken, error) {
	query := `
		SELECT user_id, token, expiry_date, created_at
		FROM refresh_token
		WHERE token = $1
	`
	var token domain.RefreshToken
	err := r.db.QueryRow(ctx, query, value).Scan(
		&token.UserID,
		&token.Token,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &token, nil
}

// DeleteRefreshToken removes a refresh token by value.
func (r *Repository) DeleteRefreshToken(ctx context.Context, value string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM refresh_token WHERE token = $1`, value); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteUserRefreshTokens removes the refresh token held by the user.
func (r *Repository) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM refresh_token WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return nil
}
