// Package roles manages role assignments of users.
package roles

import (
	"context"
	"fmt"

	"github.com/bissquit/authkeeper/internal/authz"
	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/identity"
	"github.com/bissquit/authkeeper/internal/pkg/ctxlog"
)

// Service implements role assignment and lookup.
type Service struct {
	repo Repository
}

// NewService creates a new roles service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SaveRoles replaces the roles of the user with the given login.
// Fails with ErrUserNotFound or ErrRoleNotFound without changing anything.
func (s *Service) SaveRoles(ctx context.Context, login string, names []domain.RoleName) error {
	login = normalizeLogin(login)
	userID, err := s.repo.GetUserIDByLogin(ctx, login)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool, len(names))
	roleIDs := make([]int64, 0, len(names))
	for _, name := range names {
		role, err := s.repo.GetRoleByName(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: %s", err, name)
		}
		if !seen[role.ID] {
			seen[role.ID] = true
			roleIDs = append(roleIDs, role.ID)
		}
	}

	if err := s.repo.SetUserRoles(ctx, userID, roleIDs); err != nil {
		return fmt.Errorf("set user roles: %w", err)
	}

	ctxlog.FromContext(ctx).Info("user roles saved", "target", login, "roles", names)
	return nil
}

// GetRolesForUser returns the roles of login. Only admins and the user themself
// may read them; the access check runs before the user lookup.
func (s *Service) GetRolesForUser(ctx context.Context, login string, actor *domain.Principal) ([]domain.Role, error) {
	login = normalizeLogin(login)
	if err := authz.CheckRolesAccess(actor, login); err != nil {
		return nil, err
	}

	userID, err := s.repo.GetUserIDByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	roles, err := s.repo.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	return roles, nil
}

// normalizeLogin maps login to the form stored at signup. A login that cannot
// be normalized matches no user and is passed through unchanged.
func normalizeLogin(login string) string {
	normalized, err := identity.NormalizeLogin(login)
	if err != nil {
		return login
	}
	return normalized
}
