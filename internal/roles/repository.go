package roles

import (
	"context"

	"github.com/bissquit/authkeeper/internal/domain"
)

// Repository defines the role assignment store.
type Repository interface {
	GetUserIDByLogin(ctx context.Context, login string) (string, error)
	GetRoleByName(ctx context.Context, name domain.RoleName) (*domain.Role, error)
	ListUserRoles(ctx context.Context, userID string) ([]domain.Role, error)
	// SetUserRoles replaces the user's role set in one transaction.
	SetUserRoles(ctx context.Context, userID string, roleIDs []int64) error
}
