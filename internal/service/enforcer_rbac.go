package service

import "slices"

// GetRolesForUser returns the roles name directly holds, optionally in a domain.
func (e *Enforcer) GetRolesForUser(name string, domain ...string) ([]string, error) {
	rm := e.rmMap[roleKey]
	if rm == nil {
		return []string{}, nil
	}
	return rm.GetRoles(name, domain...)
}

// GetUsersForRole returns the names that directly hold role.
func (e *Enforcer) GetUsersForRole(role string, domain ...string) ([]string, error) {
	rm := e.rmMap[roleKey]
	if rm == nil {
		return []string{}, nil
	}
	return rm.GetUsers(role, domain...)
}

// HasRoleForUser reports whether name directly holds role.
func (e *Enforcer) HasRoleForUser(name, role string, domain ...string) (bool, error) {
	roles, err := e.GetRolesForUser(name, domain...)
	if err != nil {
		return false, err
	}
	return slices.Contains(roles, role), nil
}

// AddRoleForUser grants role to user. It returns false if the grant already exists.
func (e *Enforcer) AddRoleForUser(user, role string, domain ...string) (bool, error) {
	return e.AddGroupingPolicy(append([]string{user, role}, domain...)...)
}

// DeleteRoleForUser revokes role from user. It returns false if there was no grant.
func (e *Enforcer) DeleteRoleForUser(user, role string, domain ...string) (bool, error) {
	return e.RemoveGroupingPolicy(append([]string{user, role}, domain...)...)
}

// GetPermissionsForUser returns the p rows whose subject is user.
func (e *Enforcer) GetPermissionsForUser(user string, domain ...string) [][]string {
	return e.GetFilteredPolicy(0, append([]string{user}, domain...)...)
}

// GetImplicitRolesForUser returns every role name holds directly or through
// inheritance, breadth first, across all role definitions.
func (e *Enforcer) GetImplicitRolesForUser(name string, domain ...string) ([]string, error) {
	var res []string
	seen := map[string]struct{}{name: {}}
	queue := []string{name}

	keys := make([]string, 0, len(e.rmMap))
	for key := range e.rmMap {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, key := range keys {
			roles, err := e.rmMap[key].GetRoles(current, domain...)
			if err != nil {
				return nil, err
			}
			for _, r := range roles {
				if _, ok := seen[r]; ok {
					continue
				}
				seen[r] = struct{}{}
				res = append(res, r)
				queue = append(queue, r)
			}
		}
	}
	if res == nil {
		res = []string{}
	}
	return res, nil
}

// GetImplicitPermissionsForUser returns the p rows of user and of every role
// user inherits.
func (e *Enforcer) GetImplicitPermissionsForUser(user string, domain ...string) ([][]string, error) {
	roles, err := e.GetImplicitRolesForUser(user, domain...)
	if err != nil {
		return nil, err
	}

	res := [][]string{}
	for _, subject := range append([]string{user}, roles...) {
		res = append(res, e.GetPermissionsForUser(subject, domain...)...)
	}
	return res, nil
}
