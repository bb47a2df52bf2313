package identity

import (
	"context"

	"github.com/bissquit/authkeeper/internal/domain"
)

// Repository defines the user store used by the identity service.
type Repository interface {
	// CreateUser inserts the user and its role assignments atomically and fills user.ID.
	// Returns ErrUserExists when the login or email is already taken.
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByLogin(ctx context.Context, login string) (*domain.User, error)
	ExistsByLogin(ctx context.Context, login string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	GetRoleByName(ctx context.Context, name domain.RoleName) (*domain.Role, error)
}

// RefreshTokenStore persists refresh tokens. A user owns at most one.
type RefreshTokenStore interface {
	// SaveRefreshToken stores token, replacing any token the user already holds.
	SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error
	// GetRefreshToken returns ErrRefreshTokenNotFound when no token has the value.
	GetRefreshToken(ctx context.Context, value string) (*domain.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, value string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) error
}
