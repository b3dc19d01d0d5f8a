package rbac

import "strings"

// Role is a node in the inheritance graph. Its edges point to the roles it inherits.
type Role struct {
	name  string
	roles []*Role
}

func newRole(name string) *Role {
	return &Role{name: name}
}

// Name returns the (possibly domain-qualified) role name.
func (r *Role) Name() string {
	return r.name
}

// addRole links r -> role. Links are de-duplicated by target name.
func (r *Role) addRole(role *Role) {
	for _, existing := range r.roles {
		if existing.name == role.name {
			return
		}
	}
	r.roles = append(r.roles, role)
}

func (r *Role) deleteRole(role *Role) {
	for i, existing := range r.roles {
		if existing.name == role.name {
			r.roles = append(r.roles[:i], r.roles[i+1:]...)
			return
		}
	}
}

// hasRole walks the graph depth-first. Each hop consumes one level; a node equal to
// name matches at any remaining level.
func (r *Role) hasRole(name string, level int, match MatchingFunc) bool {
	if r.name == name || (match != nil && match(r.name, name)) {
		return true
	}
	if level <= 0 {
		return false
	}
	for _, role := range r.roles {
		if role.hasRole(name, level-1, match) {
			return true
		}
	}
	return false
}

func (r *Role) hasDirectRole(name string) bool {
	for _, role := range r.roles {
		if role.name == name {
			return true
		}
	}
	return false
}

func (r *Role) roleNames() []string {
	names := make([]string, 0, len(r.roles))
	for _, role := range r.roles {
		names = append(names, role.name)
	}
	return names
}

// String renders "name < role1, role2". Empty when the role inherits nothing.
func (r *Role) String() string {
	if len(r.roles) == 0 {
		return ""
	}
	return r.name + " < " + strings.Join(r.roleNames(), ", ")
}
