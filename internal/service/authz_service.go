// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/ctxkey"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
)

// instrumentationName identifies spans and instruments created by this package.
const instrumentationName = "github.com/Sentinel-Gate/Sentinelauthz/internal/service"

// defaultCacheSize is the decision cache capacity when none is configured.
const defaultCacheSize = 1000

// ErrInvalidPolicyType is returned for policy types outside the p and g sections.
var ErrInvalidPolicyType = errors.New("policy type must start with p or g")

// Decision is the outcome of one access request.
type Decision struct {
	Allowed bool
	// Explain is the policy row that decided the request, if any.
	Explain []string
	// Cached reports whether the decision came from the cache.
	Cached bool
}

// Rule is one policy or grouping row with its policy type.
type Rule struct {
	PType string   `json:"ptype"`
	Rule  []string `json:"rule"`
}

// EnforcerFactory builds a fully loaded enforcer. It is called at startup and
// on every reload.
type EnforcerFactory func(ctx context.Context) (*Enforcer, error)

// AuthzService serializes policy changes against enforcement, caches decisions
// and publishes freshly built enforcers on reload.
type AuthzService struct {
	factory   EnforcerFactory
	cache     *ResultCache
	tracer    trace.Tracer
	meter     metric.Meter
	decisions metric.Int64Counter
	reloads   metric.Int64Counter
	auditor   Auditor
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.RWMutex
	enforcer *Enforcer
}

// AuthzServiceOption configures AuthzService.
type AuthzServiceOption func(*AuthzService)

// WithCacheSize sets the maximum number of cached decisions. Zero disables the cache.
func WithCacheSize(size int) AuthzServiceOption {
	return func(s *AuthzService) {
		s.cache = NewResultCache(size)
	}
}

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) AuthzServiceOption {
	return func(s *AuthzService) {
		s.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets the meter provider for decision and reload counters.
func WithMeterProvider(mp metric.MeterProvider) AuthzServiceOption {
	return func(s *AuthzService) {
		s.meter = mp.Meter(instrumentationName)
	}
}

// WithAuditor records every decision and policy change to a.
func WithAuditor(a Auditor) AuthzServiceOption {
	return func(s *AuthzService) {
		s.auditor = a
	}
}

// NewAuthzService builds the initial enforcer with factory.
func NewAuthzService(ctx context.Context, factory EnforcerFactory, logger *slog.Logger, opts ...AuthzServiceOption) (*AuthzService, error) {
	s := &AuthzService{
		factory: factory,
		cache:   NewResultCache(defaultCacheSize),
		tracer:  otel.GetTracerProvider().Tracer(instrumentationName),
		meter:   otel.GetMeterProvider().Meter(instrumentationName),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.decisions, err = s.meter.Int64Counter("authz.decisions",
		metric.WithDescription("Enforcement decisions by outcome"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}
	if s.reloads, err = s.meter.Int64Counter("authz.reloads",
		metric.WithDescription("Policy reloads by outcome"),
		metric.WithUnit("{reload}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reloads counter: %w", err)
	}

	e, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build enforcer: %w", err)
	}
	s.enforcer = e

	logger.Info("authz service initialized",
		"policies", len(e.GetPolicy()),
		"groupings", len(e.GetGroupingPolicy()),
		"cache_capacity", s.cache.Stats().Capacity,
	)
	return s, nil
}

// Enforce decides the request rvals. Denial is a false decision, not an error.
func (s *AuthzService) Enforce(ctx context.Context, rvals ...string) (Decision, error) {
	ctx, span := s.tracer.Start(ctx, "authz.enforce",
		trace.WithAttributes(attribute.StringSlice("authz.request", rvals)))
	defer span.End()

	fail := func(err error) (Decision, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.audit(ctx, audit.Record{Event: audit.EventDecision, Request: rvals, Error: err.Error()})
		return Decision{}, err
	}

	// Wrong-size requests never reach the cache.
	if want := s.requestSize(); want >= 0 && len(rvals) != want {
		return fail(fmt.Errorf("%w: expected %d values, got %d: %v", ErrRequestSize, want, len(rvals), rvals))
	}

	key := cacheKey(rvals)
	if d, ok := s.cache.Get(key); ok {
		d.Cached = true
		s.recordDecision(ctx, rvals, d)
		span.SetAttributes(attribute.Bool("authz.allowed", d.Allowed), attribute.Bool("authz.cached", true))
		return d, nil
	}

	args := make([]any, len(rvals))
	for i, v := range rvals {
		args[i] = v
	}

	s.mu.RLock()
	gen := s.cache.Generation()
	allowed, explain, err := s.enforcer.EnforceEx(args...)
	s.mu.RUnlock()
	if err != nil {
		return fail(err)
	}

	d := Decision{Allowed: allowed, Explain: explain}
	s.cache.Put(key, gen, d)
	s.recordDecision(ctx, rvals, d)
	span.SetAttributes(attribute.Bool("authz.allowed", allowed), attribute.Bool("authz.cached", false))
	return d, nil
}

// Reload builds a new enforcer and publishes it. On failure the current one stays.
func (s *AuthzService) Reload(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "authz.reload")
	defer span.End()

	e, err := s.factory(ctx)
	if err != nil {
		s.reloads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.audit(ctx, audit.Record{Event: audit.EventPolicyReload, Error: err.Error()})
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	s.reloads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))

	s.mu.Lock()
	s.enforcer = e
	s.mu.Unlock()
	s.cache.Clear()
	s.audit(ctx, audit.Record{Event: audit.EventPolicyReload, Changed: true})

	s.logger.Info("authz service reloaded",
		"policies", len(e.GetPolicy()),
		"groupings", len(e.GetGroupingPolicy()),
		"cache_cleared", true,
	)
	return nil
}

// AddRule adds a policy or grouping row, writing through to the adapter.
func (s *AuthzService) AddRule(ctx context.Context, r Rule) (bool, error) {
	return s.mutate(ctx, "authz.add_rule", audit.EventPolicyAdd, r, func(e *Enforcer, sec string) (bool, error) {
		if sec == model.SectionRole {
			return e.AddNamedGroupingPolicy(r.PType, r.Rule...)
		}
		return e.AddNamedPolicy(r.PType, r.Rule...)
	})
}

// RemoveRule removes a policy or grouping row, writing through to the adapter.
func (s *AuthzService) RemoveRule(ctx context.Context, r Rule) (bool, error) {
	return s.mutate(ctx, "authz.remove_rule", audit.EventPolicyRemove, r, func(e *Enforcer, sec string) (bool, error) {
		if sec == model.SectionRole {
			return e.RemoveNamedGroupingPolicy(r.PType, r.Rule...)
		}
		return e.RemoveNamedPolicy(r.PType, r.Rule...)
	})
}

func (s *AuthzService) mutate(ctx context.Context, name, event string, r Rule, op func(*Enforcer, string) (bool, error)) (bool, error) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("authz.ptype", r.PType),
		attribute.StringSlice("authz.rule", r.Rule),
	))
	defer span.End()

	sec, err := sectionOf(r.PType)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	changed, err := op(s.enforcer, sec)
	s.mu.Unlock()

	// A failing op may still have changed the policy; cached decisions are stale either way.
	if changed {
		s.cache.Clear()
	}
	rec := audit.Record{Event: event, PType: r.PType, Rule: r.Rule, Changed: changed}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Error = err.Error()
		s.audit(ctx, rec)
		return changed, err
	}
	s.audit(ctx, rec)
	return changed, nil
}

// Rules returns every policy and grouping row.
func (s *AuthzService) Rules(_ context.Context) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.enforcer.Model()
	var rules []Rule
	for _, sec := range []string{model.SectionPolicy, model.SectionRole} {
		for _, ptype := range sortedAssertionKeys(m[sec]) {
			for _, row := range m.GetPolicy(sec, ptype) {
				rules = append(rules, Rule{PType: ptype, Rule: row})
			}
		}
	}
	if rules == nil {
		rules = []Rule{}
	}
	return rules
}

// RolesForUser returns the roles user holds directly and through inheritance.
func (s *AuthzService) RolesForUser(_ context.Context, user string, domain ...string) (direct, implicit []string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	direct, err = s.enforcer.GetRolesForUser(user, domain...)
	if err != nil {
		return nil, nil, err
	}
	implicit, err = s.enforcer.GetImplicitRolesForUser(user, domain...)
	if err != nil {
		return nil, nil, err
	}
	return direct, implicit, nil
}

// PermissionsForUser returns the policy rows user holds directly and through roles.
func (s *AuthzService) PermissionsForUser(_ context.Context, user string, domain ...string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enforcer.GetImplicitPermissionsForUser(user, domain...)
}

// SavePolicy writes the current rows to the adapter.
func (s *AuthzService) SavePolicy(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "authz.save")
	defer span.End()

	s.mu.RLock()
	err := s.enforcer.SavePolicy()
	s.mu.RUnlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.audit(ctx, audit.Record{Event: audit.EventPolicySave, Error: err.Error()})
		return err
	}
	s.audit(ctx, audit.Record{Event: audit.EventPolicySave, Changed: true})
	return nil
}

// requestSize returns the number of request definition fields, or -1 when the
// model has none and the enforcer will report it.
func (s *AuthzService) requestSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ast := s.enforcer.Model().Assertion(model.SectionRequest, requestKey); ast != nil {
		return len(ast.Tokens)
	}
	return -1
}

// RequestTokens returns the request definition fields, e.g. [sub obj act].
func (s *AuthzService) RequestTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ast := s.enforcer.Model().Assertion(model.SectionRequest, requestKey)
	if ast == nil {
		return nil
	}
	fields := make([]string, len(ast.Tokens))
	for i, tok := range ast.Tokens {
		fields[i] = strings.TrimPrefix(tok, requestKey+"_")
	}
	return fields
}

// CacheSize returns the number of cached decisions.
func (s *AuthzService) CacheSize() int {
	return s.cache.Size()
}

// CacheStats returns the decision cache counters.
func (s *AuthzService) CacheStats() CacheStats {
	return s.cache.Stats()
}

func (s *AuthzService) recordDecision(ctx context.Context, rvals []string, d Decision) {
	s.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("allowed", d.Allowed),
		attribute.Bool("cached", d.Cached),
	))
	s.audit(ctx, audit.Record{
		Event:    audit.EventDecision,
		Request:  rvals,
		Decision: audit.DecisionFor(d.Allowed),
		Explain:  d.Explain,
		Cached:   d.Cached,
	})
}

// audit stamps rec and hands a private copy to the auditor, if any.
func (s *AuthzService) audit(ctx context.Context, rec audit.Record) {
	if s.auditor == nil {
		return
	}
	rec.Timestamp = s.now().UTC()
	if id, ok := ctx.Value(ctxkey.RequestIDKey{}).(string); ok {
		rec.RequestID = id
	}
	s.auditor.Record(rec.Clone())
}

func sectionOf(ptype string) (string, error) {
	if ptype == "" {
		return "", ErrInvalidPolicyType
	}
	switch sec := ptype[:1]; sec {
	case model.SectionPolicy, model.SectionRole:
		return sec, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidPolicyType, ptype)
	}
}

func sortedAssertionKeys(m model.AssertionMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
