package model

import (
	"fmt"
	"strings"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/rbac"
)

// Assertion is one parsed definition line, e.g. "p = sub, obj, act", together with
// the policy rows bound to it.
type Assertion struct {
	// Key is the section-local identifier (p, p2, g, ...).
	Key string
	// Value is the definition text after r./p. rewriting.
	Value string
	// Tokens are the field names prefixed with Key (p_sub, p_obj, ...). Only set for
	// request and policy definitions.
	Tokens []string
	// Policy holds the rows loaded for this assertion.
	Policy [][]string
	// RM resolves inheritance for role definitions. Nil for other sections.
	RM rbac.RoleManager
}

// TokenIndex returns the position of token in Tokens, or -1.
func (a *Assertion) TokenIndex(token string) int {
	for i, t := range a.Tokens {
		if t == token {
			return i
		}
	}
	return -1
}

// RoleArity returns the number of fields a role definition expects ("_, _" -> 2).
func (a *Assertion) RoleArity() int {
	return strings.Count(a.Value, "_")
}

// buildRoleLinks feeds every row of a role assertion into rm.
// Rows are truncated to the definition's arity; shorter rows are rejected.
func (a *Assertion) buildRoleLinks(rm rbac.RoleManager) error {
	a.RM = rm
	n := a.RoleArity()
	for _, row := range a.Policy {
		if n < 2 || len(row) < n {
			return fmt.Errorf("%s %v: %w", a.Key, row, ErrInvalidGroupingRow)
		}
		row = row[:n]
		if err := rm.AddLink(row[0], row[1], row[2:]...); err != nil {
			return fmt.Errorf("%s %v: %w", a.Key, row, err)
		}
	}
	return nil
}

func (a *Assertion) copy() *Assertion {
	return &Assertion{
		Key:    a.Key,
		Value:  a.Value,
		Tokens: append([]string(nil), a.Tokens...),
		Policy: copyRows(a.Policy),
		RM:     a.RM,
	}
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out
}
