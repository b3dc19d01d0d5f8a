package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	celeval "github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/effect"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/matcher"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/rbac"
)

// Error types for enforcement. All of them indicate a broken model or a
// malformed request, never a denial.
var (
	ErrMissingRequest = errors.New("model has no request definition")
	ErrMissingPolicy  = errors.New("model has no policy definition")
	ErrMissingMatcher = errors.New("model has no matcher")
	ErrMissingEffect  = errors.New("model has no policy effect")
	ErrRequestSize    = errors.New("invalid request size")
	ErrMatcherResult  = errors.New("matcher result must be bool or number")
	ErrNoAdapter      = errors.New("no policy adapter configured")
)

// Assertion keys the enforcer evaluates.
const (
	requestKey = "r"
	policyKey  = "p"
	roleKey    = "g"
	matcherKey = "m"
	effectKey  = "e"
	effectTok  = "p_eft"
)

// Enforcer evaluates access requests against a model and its policy rows.
//
// Enforcer does not lock its policy state: LoadPolicy and the management API must
// not run concurrently with Enforce. AuthzService provides that serialization.
type Enforcer struct {
	model    model.Model
	adapter  persist.Adapter
	effector effect.Effector
	rmMap    map[string]rbac.RoleManager
	fns      matcher.FunctionMap
	logger   *slog.Logger

	maxHierarchyLevel int
	compilerFactory   matcher.CompilerFactory
	autoSave          bool
	enabled           atomic.Bool

	compMu   sync.Mutex
	compiler matcher.Compiler
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithMaxHierarchyLevel sets the inheritance depth of default role managers.
func WithMaxHierarchyLevel(level int) EnforcerOption {
	return func(e *Enforcer) {
		e.maxHierarchyLevel = level
	}
}

// WithEffector replaces the default effector.
func WithEffector(eft effect.Effector) EnforcerOption {
	return func(e *Enforcer) {
		e.effector = eft
	}
}

// WithCompilerFactory replaces the CEL matcher compiler.
func WithCompilerFactory(f matcher.CompilerFactory) EnforcerOption {
	return func(e *Enforcer) {
		e.compilerFactory = f
	}
}

// WithRoleManager installs rm for the role definition ptype ("g", "g2", ...).
func WithRoleManager(ptype string, rm rbac.RoleManager) EnforcerOption {
	return func(e *Enforcer) {
		e.rmMap[ptype] = rm
	}
}

// WithAutoSave makes management API changes write through to the adapter.
func WithAutoSave(enabled bool) EnforcerOption {
	return func(e *Enforcer) {
		e.autoSave = enabled
	}
}

// NewEnforcer creates an enforcer for m and, when a is non-nil, loads its policy.
func NewEnforcer(m model.Model, a persist.Adapter, logger *slog.Logger, opts ...EnforcerOption) (*Enforcer, error) {
	e := &Enforcer{
		model:           m,
		adapter:         a,
		effector:        effect.NewDefaultEffector(),
		rmMap:           make(map[string]rbac.RoleManager),
		fns:             make(matcher.FunctionMap),
		logger:          logger,
		compilerFactory: celeval.NewFactory(),
		autoSave:        true,
	}
	e.enabled.Store(true)
	for _, opt := range opts {
		opt(e)
	}

	for key := range m[model.SectionRole] {
		if _, ok := e.rmMap[key]; !ok {
			e.rmMap[key] = rbac.NewRoleManager(e.maxHierarchyLevel, rbac.WithLogger(logger))
		}
	}

	if a != nil {
		if err := e.LoadPolicy(); err != nil {
			return nil, err
		}
	} else if err := e.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return e, nil
}

// Model returns the enforcer's model.
func (e *Enforcer) Model() model.Model {
	return e.model
}

// Adapter returns the policy adapter, possibly nil.
func (e *Enforcer) Adapter() persist.Adapter {
	return e.adapter
}

// LoadPolicy reloads every row from the adapter and rebuilds the role graphs.
// On failure the previously loaded policy stays in place.
func (e *Enforcer) LoadPolicy() error {
	if e.adapter == nil {
		return ErrNoAdapter
	}

	next := e.model.Copy()
	next.ClearPolicy()
	if err := e.adapter.LoadPolicy(next); err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if err := next.BuildRoleLinks(e.rmMap); err != nil {
		// Restore the graph of the policy still in place.
		_ = e.model.BuildRoleLinks(e.rmMap)
		return fmt.Errorf("build role links: %w", err)
	}
	e.model = next

	e.logger.Debug("policy loaded",
		"policies", len(e.model.GetPolicy(model.SectionPolicy, policyKey)),
		"groupings", len(e.model.GetPolicy(model.SectionRole, roleKey)),
	)
	return nil
}

// SavePolicy writes every row to the adapter.
func (e *Enforcer) SavePolicy() error {
	if e.adapter == nil {
		return ErrNoAdapter
	}
	if err := e.adapter.SavePolicy(e.model); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// ClearPolicy drops all rows, keeping the model definitions.
func (e *Enforcer) ClearPolicy() {
	e.model.ClearPolicy()
}

// BuildRoleLinks rebuilds every role graph from the grouping rows.
func (e *Enforcer) BuildRoleLinks() error {
	return e.model.BuildRoleLinks(e.rmMap)
}

// EnableEnforce turns evaluation on or off. A disabled enforcer allows everything.
func (e *Enforcer) EnableEnforce(enabled bool) {
	e.enabled.Store(enabled)
}

// EnableAutoSave controls whether management API changes reach the adapter.
func (e *Enforcer) EnableAutoSave(enabled bool) {
	e.autoSave = enabled
}

// GetRoleManager returns the role manager of role definition ptype, or nil.
func (e *Enforcer) GetRoleManager(ptype string) rbac.RoleManager {
	return e.rmMap[ptype]
}

// SetRoleManager replaces the role manager of ptype and rebuilds its links.
func (e *Enforcer) SetRoleManager(ptype string, rm rbac.RoleManager) error {
	e.rmMap[ptype] = rm
	return e.model.BuildRoleLinks(map[string]rbac.RoleManager{ptype: rm})
}

// AddNamedMatchingFunc installs a role-name pattern matcher on ptype's role
// manager and rebuilds its links.
func (e *Enforcer) AddNamedMatchingFunc(ptype, name string, fn rbac.MatchingFunc) error {
	rm, ok := e.rmMap[ptype]
	if !ok {
		return fmt.Errorf("%w: %s", persist.ErrUnknownPolicyType, ptype)
	}
	rm.AddMatchingFunc(name, fn)
	return e.model.BuildRoleLinks(map[string]rbac.RoleManager{ptype: rm})
}

// AddFunction makes fn callable from matchers as name. Compiled matchers are
// discarded since the expression environment changes.
func (e *Enforcer) AddFunction(name string, fn matcher.Function) {
	e.compMu.Lock()
	defer e.compMu.Unlock()
	e.fns[name] = fn
	e.compiler = nil
}

// Enforce decides whether the request rvals is allowed.
func (e *Enforcer) Enforce(rvals ...any) (bool, error) {
	ok, _, err := e.enforce("", false, rvals)
	return ok, err
}

// EnforceWithMatcher is Enforce with a matcher expression other than the model's.
func (e *Enforcer) EnforceWithMatcher(matcherText string, rvals ...any) (bool, error) {
	ok, _, err := e.enforce(matcherText, false, rvals)
	return ok, err
}

// EnforceEx is Enforce that also returns the policy row that decided the request.
func (e *Enforcer) EnforceEx(rvals ...any) (bool, []string, error) {
	return e.enforce("", true, rvals)
}

func (e *Enforcer) enforce(matcherText string, explain bool, rvals []any) (bool, []string, error) {
	if !e.enabled.Load() {
		return true, nil, nil
	}

	rAst := e.model.Assertion(model.SectionRequest, requestKey)
	if rAst == nil {
		return false, nil, ErrMissingRequest
	}
	pAst := e.model.Assertion(model.SectionPolicy, policyKey)
	if pAst == nil {
		return false, nil, ErrMissingPolicy
	}

	if matcherText == "" {
		mAst := e.model.Assertion(model.SectionMatcher, matcherKey)
		if mAst == nil {
			return false, nil, ErrMissingMatcher
		}
		matcherText = mAst.Value
	} else {
		matcherText = model.EscapeMatcher(matcherText)
	}
	eAst := e.model.Assertion(model.SectionEffect, effectKey)
	if eAst == nil {
		return false, nil, ErrMissingEffect
	}

	stream, err := e.effector.NewStream(eAst.Value)
	if err != nil {
		return false, nil, err
	}

	compiler, err := e.getCompiler()
	if err != nil {
		return false, nil, err
	}
	prg, err := compiler.Compile(matcherText)
	if err != nil {
		return false, nil, fmt.Errorf("compile matcher: %w", err)
	}

	if len(rvals) != len(rAst.Tokens) {
		return false, nil, fmt.Errorf("%w: expected %d values, got %d: %v",
			ErrRequestSize, len(rAst.Tokens), len(rvals), rvals)
	}

	vars := make(map[string]any, len(rAst.Tokens)+len(pAst.Tokens))
	for i, tok := range rAst.Tokens {
		vars[tok] = rvals[i]
	}

	var decided []string
	if len(pAst.Policy) == 0 {
		for _, tok := range pAst.Tokens {
			vars[tok] = ""
		}
		out, err := prg.Eval(vars)
		if err != nil {
			return false, nil, err
		}
		eft := effect.Indeterminate
		if truthy(out) {
			eft = effect.Allow
		}
		stream.PushEffect(eft)
	} else {
		eftIndex := pAst.TokenIndex(effectTok)
		for _, row := range pAst.Policy {
			for i, tok := range pAst.Tokens {
				if i < len(row) {
					vars[tok] = row[i]
				} else {
					vars[tok] = ""
				}
			}

			out, err := prg.Eval(vars)
			if err != nil {
				return false, nil, err
			}
			eft, err := toEffect(out)
			if err != nil {
				return false, nil, err
			}
			if eft == effect.Allow && eftIndex >= 0 && eftIndex < len(row) {
				eft = rowEffect(row[eftIndex])
			}

			if eft != effect.Indeterminate {
				decided = row
			}
			if _, done := stream.PushEffect(eft); done {
				break
			}
		}
	}

	result := stream.Current()
	e.logger.Debug("enforce", "request", rvals, "allowed", result)

	if !explain || decided == nil {
		return result, nil, nil
	}
	return result, append([]string(nil), decided...), nil
}

// getCompiler returns the matcher compiler, building it on first use.
func (e *Enforcer) getCompiler() (matcher.Compiler, error) {
	e.compMu.Lock()
	defer e.compMu.Unlock()
	if e.compiler != nil {
		return e.compiler, nil
	}

	var variables []string
	for _, sec := range []string{model.SectionRequest, model.SectionPolicy} {
		keys := make([]string, 0, len(e.model[sec]))
		for key := range e.model[sec] {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			variables = append(variables, e.model[sec][key].Tokens...)
		}
	}

	fns := matcher.Builtins()
	for name, fn := range e.fns {
		fns[name] = fn
	}
	for key := range e.model[model.SectionRole] {
		fns[key] = e.roleFunction(key)
	}

	c, err := e.compilerFactory(variables, fns)
	if err != nil {
		return nil, fmt.Errorf("create matcher compiler: %w", err)
	}
	e.compiler = c
	return c, nil
}

// roleFunction returns the matcher function for role definition key. The role
// manager is looked up on every call so rebuilt graphs take effect without
// recompiling matchers.
func (e *Enforcer) roleFunction(key string) matcher.Function {
	return func(args ...any) (any, error) {
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("%s: %w: got %d", key, matcher.ErrArgumentCount, len(args))
		}
		names := make([]string, len(args))
		for i, arg := range args {
			s, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("%s: %w: argument %d is %T", key, matcher.ErrArgumentType, i, arg)
			}
			names[i] = s
		}

		var rm rbac.RoleManager
		if ast := e.model.Assertion(model.SectionRole, key); ast != nil {
			rm = ast.RM
		}
		if rm == nil {
			return names[0] == names[1], nil
		}
		ok, err := rm.HasLink(names[0], names[1], names[2:]...)
		return ok, err
	}
}

// toEffect maps a matcher result to a row effect.
func toEffect(out any) (effect.Effect, error) {
	switch v := out.(type) {
	case bool:
		if v {
			return effect.Allow, nil
		}
		return effect.Indeterminate, nil
	case int64:
		return numberEffect(float64(v)), nil
	case uint64:
		return numberEffect(float64(v)), nil
	case float64:
		return numberEffect(v), nil
	default:
		return 0, fmt.Errorf("%w: got %T", ErrMatcherResult, out)
	}
}

func numberEffect(n float64) effect.Effect {
	if n == 0 {
		return effect.Indeterminate
	}
	return effect.Effect(n)
}

// rowEffect maps a p_eft value to an effect.
func rowEffect(v string) effect.Effect {
	switch v {
	case "allow":
		return effect.Allow
	case "deny":
		return effect.Deny
	default:
		return effect.Indeterminate
	}
}

func truthy(out any) bool {
	switch v := out.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case uint64:
		return v != 0
	case float64:
		return v != 0
	default:
		return false
	}
}
