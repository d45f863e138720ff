package models

import (
	"fmt"
	"strings"
)

// Role is the access level of a user account.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

var knownRoles = map[Role]struct{}{
	RoleUser:      {},
	RoleGuide:     {},
	RoleLeadGuide: {},
	RoleAdmin:     {},
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// ParseRole converts a raw role name into a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

// RoleSet is a fixed set of roles allowed through a restriction.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return set
}

// Contains reports whether role is part of the set.
func (s RoleSet) Contains(role Role) bool {
	_, ok := s[role]
	return ok
}
