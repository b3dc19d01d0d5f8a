package model

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/rbac"
)

// BuildRoleLinks rebuilds the role graph of every role assertion. rmMap supplies the
// manager per assertion key; each manager is cleared before it is repopulated.
func (m Model) BuildRoleLinks(rmMap map[string]rbac.RoleManager) error {
	for key, ast := range m[SectionRole] {
		rm, ok := rmMap[key]
		if !ok {
			continue
		}
		if err := rm.Clear(); err != nil {
			return err
		}
		if err := ast.buildRoleLinks(rm); err != nil {
			return err
		}
	}
	return nil
}

// ClearPolicy drops all policy and role rows, keeping definitions.
func (m Model) ClearPolicy() {
	for _, sec := range []string{SectionPolicy, SectionRole} {
		for _, ast := range m[sec] {
			ast.Policy = nil
		}
	}
}

// Copy returns a deep copy of the definitions and rows. Role managers are shared.
func (m Model) Copy() Model {
	out := make(Model, len(m))
	for sec, astMap := range m {
		out[sec] = make(AssertionMap, len(astMap))
		for key, ast := range astMap {
			out[sec][key] = ast.copy()
		}
	}
	return out
}

// GetPolicy returns a copy of the rows of sec/ptype.
func (m Model) GetPolicy(sec, ptype string) [][]string {
	ast := m.Assertion(sec, ptype)
	if ast == nil {
		return [][]string{}
	}
	return copyRows(ast.Policy)
}

// GetFilteredPolicy returns rows whose fields starting at fieldIndex equal
// fieldValues. Empty filter values match anything.
func (m Model) GetFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) [][]string {
	ast := m.Assertion(sec, ptype)
	res := [][]string{}
	if ast == nil {
		return res
	}
	for _, row := range ast.Policy {
		if rowMatches(row, fieldIndex, fieldValues) {
			res = append(res, append([]string(nil), row...))
		}
	}
	return res
}

// HasPolicy reports whether sec/ptype contains rule.
func (m Model) HasPolicy(sec, ptype string, rule []string) bool {
	ast := m.Assertion(sec, ptype)
	if ast == nil {
		return false
	}
	for _, row := range ast.Policy {
		if slices.Equal(row, rule) {
			return true
		}
	}
	return false
}

// AddPolicy appends rule to sec/ptype. It returns false if the assertion does not
// exist or already holds the rule.
func (m Model) AddPolicy(sec, ptype string, rule []string) bool {
	ast := m.Assertion(sec, ptype)
	if ast == nil || m.HasPolicy(sec, ptype, rule) {
		return false
	}
	ast.Policy = append(ast.Policy, append([]string(nil), rule...))
	return true
}

// AppendRow appends a row without the duplicate check. Used by adapters while
// loading. It returns false if the assertion does not exist.
func (m Model) AppendRow(sec, ptype string, row []string) bool {
	ast := m.Assertion(sec, ptype)
	if ast == nil {
		return false
	}
	ast.Policy = append(ast.Policy, row)
	return true
}

// RemovePolicy removes rule from sec/ptype, reporting whether it was present.
func (m Model) RemovePolicy(sec, ptype string, rule []string) bool {
	ast := m.Assertion(sec, ptype)
	if ast == nil {
		return false
	}
	for i, row := range ast.Policy {
		if slices.Equal(row, rule) {
			ast.Policy = append(ast.Policy[:i], ast.Policy[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveFilteredPolicy removes the rows GetFilteredPolicy would return and
// returns them.
func (m Model) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) [][]string {
	ast := m.Assertion(sec, ptype)
	removed := [][]string{}
	if ast == nil {
		return removed
	}
	kept := ast.Policy[:0]
	for _, row := range ast.Policy {
		if rowMatches(row, fieldIndex, fieldValues) {
			removed = append(removed, row)
			continue
		}
		kept = append(kept, row)
	}
	ast.Policy = kept
	return removed
}

// GetValuesForFieldInPolicy returns the distinct values of column fieldIndex,
// in first-seen order.
func (m Model) GetValuesForFieldInPolicy(sec, ptype string, fieldIndex int) []string {
	ast := m.Assertion(sec, ptype)
	values := []string{}
	if ast == nil {
		return values
	}
	seen := make(map[string]struct{})
	for _, row := range ast.Policy {
		if fieldIndex >= len(row) {
			continue
		}
		v := row[fieldIndex]
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	return values
}

// GetValuesForFieldInPolicyAllTypes is GetValuesForFieldInPolicy across every
// assertion of sec, in key order.
func (m Model) GetValuesForFieldInPolicyAllTypes(sec string, fieldIndex int) []string {
	values := []string{}
	seen := make(map[string]struct{})
	for _, ptype := range sortedKeys(m[sec]) {
		for _, v := range m.GetValuesForFieldInPolicy(sec, ptype, fieldIndex) {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	return values
}

// PrintPolicy logs every policy and role row.
func (m Model) PrintPolicy(logger *slog.Logger) {
	for _, sec := range []string{SectionPolicy, SectionRole} {
		for _, key := range sortedKeys(m[sec]) {
			for _, row := range m[sec][key].Policy {
				logger.Info("policy", "type", key, "rule", strings.Join(row, ", "))
			}
		}
	}
}

func rowMatches(row []string, fieldIndex int, fieldValues []string) bool {
	if fieldIndex < 0 {
		return false
	}
	for i, v := range fieldValues {
		if v == "" {
			continue
		}
		idx := fieldIndex + i
		if idx >= len(row) || row[idx] != v {
			return false
		}
	}
	return true
}
