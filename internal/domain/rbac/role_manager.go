// Package rbac contains the role inheritance graph used by role-definition assertions.
package rbac

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// DefaultMaxHierarchyLevel is the inheritance depth used when none is configured.
const DefaultMaxHierarchyLevel = 10

// domainSeparator joins a domain and a role name into a graph key.
const domainSeparator = "::"

// ErrTooManyDomains is returned when more than one domain argument is passed.
var ErrTooManyDomains = errors.New("rbac: domain should be 1 parameter")

// MatchingFunc reports whether name matches pattern. Installed with AddMatchingFunc
// to let role names act as patterns (e.g. "/book/*").
type MatchingFunc func(name, pattern string) bool

// RoleManager manages role-to-role inheritance links for one role definition.
type RoleManager interface {
	// Clear removes all roles and links.
	Clear() error
	// AddLink makes name1 inherit name2, optionally inside a domain.
	AddLink(name1, name2 string, domain ...string) error
	// DeleteLink removes the inheritance link name1 -> name2.
	DeleteLink(name1, name2 string, domain ...string) error
	// HasLink reports whether name1 inherits name2 directly or transitively.
	HasLink(name1, name2 string, domain ...string) (bool, error)
	// GetRoles returns the roles name directly inherits.
	GetRoles(name string, domain ...string) ([]string, error)
	// GetUsers returns the names that directly inherit name.
	GetUsers(name string, domain ...string) ([]string, error)
	// PrintRoles logs every role and its direct links.
	PrintRoles() error
	// AddMatchingFunc installs a pattern matcher for role names.
	AddMatchingFunc(name string, fn MatchingFunc)
}

// Option configures a DefaultRoleManager.
type Option func(*DefaultRoleManager)

// WithLogger sets the logger used by PrintRoles.
func WithLogger(logger *slog.Logger) Option {
	return func(rm *DefaultRoleManager) {
		rm.logger = logger
	}
}

// DefaultRoleManager is an in-memory RoleManager with bounded inheritance depth.
// Safe for concurrent use.
type DefaultRoleManager struct {
	mu                sync.RWMutex
	roles             map[string]*Role
	order             []string // insertion order of role keys
	maxHierarchyLevel int

	matchingFuncName string
	matchingFunc     MatchingFunc

	logger *slog.Logger
}

// NewRoleManager creates a role manager. A non-positive maxHierarchyLevel selects
// DefaultMaxHierarchyLevel.
func NewRoleManager(maxHierarchyLevel int, opts ...Option) *DefaultRoleManager {
	if maxHierarchyLevel <= 0 {
		maxHierarchyLevel = DefaultMaxHierarchyLevel
	}
	rm := &DefaultRoleManager{
		roles:             make(map[string]*Role),
		maxHierarchyLevel: maxHierarchyLevel,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(rm)
	}
	return rm
}

// MaxHierarchyLevel returns the configured inheritance depth.
func (rm *DefaultRoleManager) MaxHierarchyLevel() int {
	return rm.maxHierarchyLevel
}

// AddMatchingFunc installs a pattern matcher. Roles created afterwards are linked to
// every existing role whose name they match.
func (rm *DefaultRoleManager) AddMatchingFunc(name string, fn MatchingFunc) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.matchingFuncName = name
	rm.matchingFunc = fn
}

// hasPattern reports whether a matching function is installed.
func (rm *DefaultRoleManager) hasPattern() bool {
	return rm.matchingFunc != nil
}

// Clear implements RoleManager.
func (rm *DefaultRoleManager) Clear() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.roles = make(map[string]*Role)
	rm.order = nil
	return nil
}

// AddLink implements RoleManager.
func (rm *DefaultRoleManager) AddLink(name1, name2 string, domain ...string) error {
	name1, name2, err := qualify(name1, name2, domain)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	role1 := rm.createRoleLocked(name1)
	role2 := rm.createRoleLocked(name2)
	role1.addRole(role2)
	return nil
}

// DeleteLink implements RoleManager. Missing roles make it a no-op.
func (rm *DefaultRoleManager) DeleteLink(name1, name2 string, domain ...string) error {
	name1, name2, err := qualify(name1, name2, domain)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	role1, ok1 := rm.roles[name1]
	role2, ok2 := rm.roles[name2]
	if !ok1 || !ok2 {
		return nil
	}
	role1.deleteRole(role2)
	return nil
}

// HasLink implements RoleManager. A name always inherits itself; links deeper than
// the configured hierarchy level are reported as absent.
func (rm *DefaultRoleManager) HasLink(name1, name2 string, domain ...string) (bool, error) {
	name1, name2, err := qualify(name1, name2, domain)
	if err != nil {
		return false, err
	}
	if name1 == name2 {
		return true, nil
	}

	rm.mu.RLock()
	if !rm.hasPattern() {
		defer rm.mu.RUnlock()
		role1, ok := rm.roles[name1]
		if !ok {
			return false, nil
		}
		if _, ok := rm.roles[name2]; !ok {
			return false, nil
		}
		return role1.hasRole(name2, rm.maxHierarchyLevel, nil), nil
	}
	rm.mu.RUnlock()

	// Pattern lookups may create name1 and link it to the roles it matches.
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.hasRoleLocked(name1) || !rm.hasRoleLocked(name2) {
		return false, nil
	}
	role1 := rm.createRoleLocked(name1)
	return role1.hasRole(name2, rm.maxHierarchyLevel, rm.matchingFunc), nil
}

// GetRoles implements RoleManager.
func (rm *DefaultRoleManager) GetRoles(name string, domain ...string) ([]string, error) {
	key, err := qualifyOne(name, domain)
	if err != nil {
		return nil, err
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	role, ok := rm.roles[key]
	if !ok {
		return []string{}, nil
	}
	names := role.roleNames()
	if len(domain) == 1 {
		names = stripDomain(names, domain[0])
	}
	return names, nil
}

// GetUsers implements RoleManager.
func (rm *DefaultRoleManager) GetUsers(name string, domain ...string) ([]string, error) {
	key, err := qualifyOne(name, domain)
	if err != nil {
		return nil, err
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	users := []string{}
	for _, k := range rm.order {
		if rm.roles[k].hasDirectRole(key) {
			users = append(users, k)
		}
	}
	if len(domain) == 1 {
		users = stripDomain(users, domain[0])
	}
	return users, nil
}

// PrintRoles implements RoleManager.
func (rm *DefaultRoleManager) PrintRoles() error {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	for _, k := range rm.order {
		if line := rm.roles[k].String(); line != "" {
			rm.logger.Info("role", "link", line)
		}
	}
	return nil
}

// hasRoleLocked reports whether a node exists, or a pattern-matching node exists when
// a matching function is installed. Caller holds rm.mu.
func (rm *DefaultRoleManager) hasRoleLocked(name string) bool {
	if rm.hasPattern() {
		for _, k := range rm.order {
			if rm.matchingFunc(name, k) {
				return true
			}
		}
	}
	_, ok := rm.roles[name]
	return ok
}

// createRoleLocked returns the node for name, creating it if needed. With a matching
// function installed the node is linked to every existing role it matches.
// Caller holds rm.mu for writing.
func (rm *DefaultRoleManager) createRoleLocked(name string) *Role {
	role, ok := rm.roles[name]
	if !ok {
		role = newRole(name)
		rm.roles[name] = role
		rm.order = append(rm.order, name)
	}

	if rm.hasPattern() {
		for _, k := range rm.order {
			if k != name && rm.matchingFunc(name, k) {
				role.addRole(rm.roles[k])
			}
		}
	}
	return role
}

// qualify applies the optional domain to both names.
func qualify(name1, name2 string, domain []string) (string, string, error) {
	switch len(domain) {
	case 0:
		return name1, name2, nil
	case 1:
		return domain[0] + domainSeparator + name1, domain[0] + domainSeparator + name2, nil
	default:
		return "", "", ErrTooManyDomains
	}
}

func qualifyOne(name string, domain []string) (string, error) {
	switch len(domain) {
	case 0:
		return name, nil
	case 1:
		return domain[0] + domainSeparator + name, nil
	default:
		return "", ErrTooManyDomains
	}
}

func stripDomain(names []string, domain string) []string {
	prefix := domain + domainSeparator
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimPrefix(n, prefix))
	}
	return out
}

// Compile-time interface verification.
var _ RoleManager = (*DefaultRoleManager)(nil)
