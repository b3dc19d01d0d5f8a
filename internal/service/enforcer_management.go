package service

import (
	"errors"
	"fmt"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/rbac"
)

// GetPolicy returns every row of policy type p.
func (e *Enforcer) GetPolicy() [][]string {
	return e.GetNamedPolicy(policyKey)
}

// GetNamedPolicy returns every row of policy type ptype.
func (e *Enforcer) GetNamedPolicy(ptype string) [][]string {
	return e.model.GetPolicy(model.SectionPolicy, ptype)
}

// GetFilteredPolicy returns p rows whose fields from fieldIndex on match fieldValues.
// Empty values match anything.
func (e *Enforcer) GetFilteredPolicy(fieldIndex int, fieldValues ...string) [][]string {
	return e.model.GetFilteredPolicy(model.SectionPolicy, policyKey, fieldIndex, fieldValues...)
}

// GetGroupingPolicy returns every row of role definition g.
func (e *Enforcer) GetGroupingPolicy() [][]string {
	return e.GetNamedGroupingPolicy(roleKey)
}

// GetNamedGroupingPolicy returns every row of role definition ptype.
func (e *Enforcer) GetNamedGroupingPolicy(ptype string) [][]string {
	return e.model.GetPolicy(model.SectionRole, ptype)
}

// GetFilteredGroupingPolicy is GetFilteredPolicy for g rows.
func (e *Enforcer) GetFilteredGroupingPolicy(fieldIndex int, fieldValues ...string) [][]string {
	return e.model.GetFilteredPolicy(model.SectionRole, roleKey, fieldIndex, fieldValues...)
}

// HasPolicy reports whether the p row exists.
func (e *Enforcer) HasPolicy(params ...string) bool {
	return e.model.HasPolicy(model.SectionPolicy, policyKey, params)
}

// HasGroupingPolicy reports whether the g row exists.
func (e *Enforcer) HasGroupingPolicy(params ...string) bool {
	return e.model.HasPolicy(model.SectionRole, roleKey, params)
}

// GetAllSubjects returns the distinct subjects of the p rows.
func (e *Enforcer) GetAllSubjects() []string {
	return e.fieldValues("sub")
}

// GetAllObjects returns the distinct objects of the p rows.
func (e *Enforcer) GetAllObjects() []string {
	return e.fieldValues("obj")
}

// GetAllActions returns the distinct actions of the p rows.
func (e *Enforcer) GetAllActions() []string {
	return e.fieldValues("act")
}

// GetAllRoles returns the distinct roles named by rows of every role definition.
func (e *Enforcer) GetAllRoles() []string {
	return e.model.GetValuesForFieldInPolicyAllTypes(model.SectionRole, 1)
}

// fieldValues returns the distinct values of the p field named name, falling back
// to its conventional position in "sub, obj, act".
func (e *Enforcer) fieldValues(name string) []string {
	idx := map[string]int{"sub": 0, "obj": 1, "act": 2}[name]
	if ast := e.model.Assertion(model.SectionPolicy, policyKey); ast != nil {
		if i := ast.TokenIndex(policyKey + "_" + name); i >= 0 {
			idx = i
		}
	}
	return e.model.GetValuesForFieldInPolicy(model.SectionPolicy, policyKey, idx)
}

// AddPolicy adds a p row. It returns false if the row already exists.
func (e *Enforcer) AddPolicy(params ...string) (bool, error) {
	return e.AddNamedPolicy(policyKey, params...)
}

// AddNamedPolicy adds a row of policy type ptype.
func (e *Enforcer) AddNamedPolicy(ptype string, params ...string) (bool, error) {
	return e.addPolicy(model.SectionPolicy, ptype, params)
}

// RemovePolicy removes a p row. It returns false if the row does not exist.
func (e *Enforcer) RemovePolicy(params ...string) (bool, error) {
	return e.RemoveNamedPolicy(policyKey, params...)
}

// RemoveNamedPolicy removes a row of policy type ptype.
func (e *Enforcer) RemoveNamedPolicy(ptype string, params ...string) (bool, error) {
	return e.removePolicy(model.SectionPolicy, ptype, params)
}

// RemoveFilteredPolicy removes the p rows GetFilteredPolicy would return.
func (e *Enforcer) RemoveFilteredPolicy(fieldIndex int, fieldValues ...string) (bool, error) {
	rules := e.model.GetFilteredPolicy(model.SectionPolicy, policyKey, fieldIndex, fieldValues...)
	for _, rule := range rules {
		if _, err := e.removePolicy(model.SectionPolicy, policyKey, rule); err != nil {
			return false, err
		}
	}
	return len(rules) > 0, nil
}

// AddGroupingPolicy adds a g row and links it in the role graph.
func (e *Enforcer) AddGroupingPolicy(params ...string) (bool, error) {
	return e.AddNamedGroupingPolicy(roleKey, params...)
}

// AddNamedGroupingPolicy adds a row to role definition ptype.
func (e *Enforcer) AddNamedGroupingPolicy(ptype string, params ...string) (bool, error) {
	return e.addPolicy(model.SectionRole, ptype, params)
}

// RemoveGroupingPolicy removes a g row and unlinks it from the role graph.
func (e *Enforcer) RemoveGroupingPolicy(params ...string) (bool, error) {
	return e.RemoveNamedGroupingPolicy(roleKey, params...)
}

// RemoveNamedGroupingPolicy removes a row from role definition ptype.
func (e *Enforcer) RemoveNamedGroupingPolicy(ptype string, params ...string) (bool, error) {
	return e.removePolicy(model.SectionRole, ptype, params)
}

// addPolicy writes through to the adapter first, then updates the model and,
// for role rows, the role graph.
func (e *Enforcer) addPolicy(sec, ptype string, rule []string) (bool, error) {
	if e.model.Assertion(sec, ptype) == nil {
		return false, fmt.Errorf("%w: %s", persist.ErrUnknownPolicyType, ptype)
	}
	if e.model.HasPolicy(sec, ptype, rule) {
		return false, nil
	}
	if sec == model.SectionRole {
		if err := e.checkGroupingRow(ptype, rule); err != nil {
			return false, err
		}
	}

	if err := e.writeThrough(func(a persist.Adapter) error { return a.AddPolicy(sec, ptype, rule) }); err != nil {
		return false, err
	}
	e.model.AddPolicy(sec, ptype, rule)

	if sec == model.SectionRole {
		if rm := e.rmMap[ptype]; rm != nil {
			n := e.model.Assertion(sec, ptype).RoleArity()
			if err := rm.AddLink(rule[0], rule[1], rule[2:n]...); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

func (e *Enforcer) removePolicy(sec, ptype string, rule []string) (bool, error) {
	if !e.model.HasPolicy(sec, ptype, rule) {
		return false, nil
	}

	if err := e.writeThrough(func(a persist.Adapter) error { return a.RemovePolicy(sec, ptype, rule) }); err != nil {
		return false, err
	}
	e.model.RemovePolicy(sec, ptype, rule)

	if sec == model.SectionRole {
		if rm := e.rmMap[ptype]; rm != nil {
			n := e.model.Assertion(sec, ptype).RoleArity()
			if n >= 2 && len(rule) >= n {
				if err := rm.DeleteLink(rule[0], rule[1], rule[2:n]...); err != nil {
					return true, err
				}
			}
		}
	}
	return true, nil
}

func (e *Enforcer) checkGroupingRow(ptype string, rule []string) error {
	n := e.model.Assertion(model.SectionRole, ptype).RoleArity()
	if n < 2 || len(rule) < n {
		return fmt.Errorf("%s %v: %w", ptype, rule, model.ErrInvalidGroupingRow)
	}
	// The role graph holds at most one domain: g = _, _ or g = _, _, _.
	if n > 3 {
		return fmt.Errorf("%s %v: %w: %w", ptype, rule, model.ErrInvalidGroupingRow, rbac.ErrTooManyDomains)
	}
	return nil
}

// writeThrough runs op against the adapter when auto-save is on. Adapters that do not
// support incremental writes are skipped.
func (e *Enforcer) writeThrough(op func(persist.Adapter) error) error {
	if e.adapter == nil || !e.autoSave {
		return nil
	}
	if err := op(e.adapter); err != nil && !errors.Is(err, persist.ErrNotImplemented) {
		return fmt.Errorf("persist policy change: %w", err)
	}
	return nil
}
