package domain

import "slices"

// RoleName is an authority granted to a user.
type RoleName string

const (
	RoleUser                RoleName = "USER"
	RoleCreditUser          RoleName = "CREDIT_USER"
	RoleOverdraftUser       RoleName = "OVERDRAFT_USER"
	RoleDealSuperuser       RoleName = "DEAL_SUPERUSER"
	RoleContractorRus       RoleName = "CONTRACTOR_RUS"
	RoleContractorSuperuser RoleName = "CONTRACTOR_SUPERUSER"
	RoleSuperuser           RoleName = "SUPERUSER"
	RoleAdmin               RoleName = "ADMIN"
)

var roleNames = []RoleName{
	RoleUser,
	RoleCreditUser,
	RoleOverdraftUser,
	RoleDealSuperuser,
	RoleContractorRus,
	RoleContractorSuperuser,
	RoleSuperuser,
	RoleAdmin,
}

// AllRoleNames returns every known role name.
func AllRoleNames() []RoleName {
	return slices.Clone(roleNames)
}

// Valid reports whether r is one of the known role names.
func (r RoleName) Valid() bool {
	return slices.Contains(roleNames, r)
}

// Role is a role reference row.
type Role struct {
	ID   int64    `json:"id"`
	Name RoleName `json:"name"`
}

// RoleStrings converts role names to plain strings.
func RoleStrings(names []RoleName) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, string(n))
	}
	return out
}
