// Package authz decides whether a caller's roles permit an action.
package authz

import (
	"errors"
	"slices"

	"github.com/bissquit/authkeeper/internal/domain"
)

// ErrAccessDenied is returned when an authorization rule rejects the caller.
var ErrAccessDenied = errors.New("access denied")

// CanAccess reports whether actorRoles include the required authority.
// Role names are compared case-sensitively.
func CanAccess(actorRoles []domain.RoleName, required domain.RoleName) bool {
	return slices.Contains(actorRoles, required)
}

// CheckRolesAccess permits reading the roles of targetLogin to admins and to the
// user themself.
func CheckRolesAccess(actor *domain.Principal, targetLogin string) error {
	if actor == nil {
		return ErrAccessDenied
	}
	if CanAccess(actor.Roles, domain.RoleAdmin) || actor.Login == targetLogin {
		return nil
	}
	return ErrAccessDenied
}
