// Package audit contains domain types for the decision and policy-change log.
package audit

import (
	"slices"
	"time"
)

// Decision values.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Event types.
const (
	// EventDecision is an enforcement decision.
	EventDecision = "decision"

	EventPolicyAdd    = "policy.add"
	EventPolicyRemove = "policy.remove"
	EventPolicyReload = "policy.reload"
	EventPolicySave   = "policy.save"
)

// Record is one entry of the audit log.
type Record struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Event is one of the Event* constants.
	Event string `json:"event"`
	// RequestID correlates the entry with the HTTP request, if any.
	RequestID string `json:"request_id,omitempty"`

	// Request holds the request values of a decision.
	Request []string `json:"request,omitempty"`
	// Decision is DecisionAllow or DecisionDeny.
	Decision string `json:"decision,omitempty"`
	// Explain is the policy row that decided the request.
	Explain []string `json:"explain,omitempty"`
	// Cached reports a decision served from the decision cache.
	Cached bool `json:"cached,omitempty"`

	// PType and Rule identify the row of a policy change.
	PType string   `json:"ptype,omitempty"`
	Rule  []string `json:"rule,omitempty"`
	// Changed reports whether a policy change modified anything.
	Changed bool `json:"changed,omitempty"`

	// Error is set when the operation failed.
	Error string `json:"error,omitempty"`
}

// DecisionFor returns DecisionAllow or DecisionDeny.
func DecisionFor(allowed bool) string {
	if allowed {
		return DecisionAllow
	}
	return DecisionDeny
}

// Filter selects records from a recent-records buffer.
type Filter struct {
	// Event matches Record.Event (optional).
	Event string
	// Decision matches Record.Decision (optional).
	Decision string
	// Subject matches the first request value (optional).
	Subject string
	// Limit caps the result (default 100, max 1000).
	Limit int
}

// Limits for Filter.Limit.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// EffectiveLimit returns Limit clamped to (0, MaxLimit], DefaultLimit when unset.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// Matches reports whether rec passes every set field of f.
func (f Filter) Matches(rec Record) bool {
	if f.Event != "" && rec.Event != f.Event {
		return false
	}
	if f.Decision != "" && rec.Decision != f.Decision {
		return false
	}
	if f.Subject != "" && (len(rec.Request) == 0 || rec.Request[0] != f.Subject) {
		return false
	}
	return true
}

// Clone returns a copy of rec that shares no slices with it.
func (rec Record) Clone() Record {
	rec.Request = slices.Clone(rec.Request)
	rec.Explain = slices.Clone(rec.Explain)
	rec.Rule = slices.Clone(rec.Rule)
	return rec
}
