// Package postgres provides PostgreSQL implementation of the roles repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/roles"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the roles.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetUserIDByLogin resolves a login to a user ID.
func (r *Repository) GetUserIDByLogin(ctx context.Context, login string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE login = $1`, login).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", roles.ErrUserNotFound
		}
		return "", fmt.Errorf("get user id by login: %w", err)
	}
	return id, nil
}

// GetRoleByName retrieves a role reference row.
func (r *Repository) GetRoleByName(ctx context.Context, name domain.RoleName) (*domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRow(ctx, `SELECT id, name FROM user_role WHERE name = $1`, string(name)).
		Scan(&role.ID, &role.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roles.ErrRoleNotFound
		}
		return nil, fmt.Errorf("get role by name: %w", err)
	}
	return &role, nil
}

// ListUserRoles returns the roles assigned to the user ordered by ID.
func (r *Repository) ListUserRoles(ctx context.Context, userID string) ([]domain.Role, error) {
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

	result := make([]domain.Role, 0)
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return result, nil
}

// SetUserRoles replaces all role assignments of the user.
func (r *Repository) SetUserRoles(ctx context.Context, userID string, roleIDs []int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM user_to_role WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete old roles: %w", err)
	}

	if len(roleIDs) > 0 {
		insertQuery := `
			INSERT INTO user_to_role (user_id, role_id)
			SELECT $1, unnest($2::bigint[])
		`
		if _, err := tx.Exec(ctx, insertQuery, userID, roleIDs); err != nil {
			return fmt.Errorf("insert roles: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET updated_at = NOW() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
