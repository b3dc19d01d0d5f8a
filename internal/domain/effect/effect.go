// Package effect folds per-policy-row effects into a single allow/deny decision.
package effect

import (
	"errors"
	"fmt"
)

// Effect is the outcome of evaluating the matcher against one policy row.
type Effect int

const (
	// Allow means the row grants the request.
	Allow Effect = iota + 1
	// Indeterminate means the row does not apply.
	Indeterminate
	// Deny means the row explicitly rejects the request.
	Deny
)

// String returns the lowercase effect name.
func (e Effect) String() string {
	switch e {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Indeterminate:
		return "indeterminate"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// Supported effect expressions, after r./p. rewriting.
const (
	AllowOverride = "some(where (p_eft == allow))"
	DenyOverride  = "!some(where (p_eft == deny))"
	AllowAndDeny  = "some(where (p_eft == allow)) && !some(where (p_eft == deny))"
	Priority      = "priority(p_eft) || deny"
)

// ErrUnsupportedEffect is returned for effect expressions outside the supported set.
var ErrUnsupportedEffect = errors.New("unsupported effect")

// Stream accumulates effects for a single enforcement call.
type Stream interface {
	// Current returns the decision so far.
	Current() bool
	// PushEffect folds in one row's effect. Once done is true, callers must stop pushing.
	PushEffect(eft Effect) (res bool, done bool)
}

// Effector creates effect streams for an effect expression.
type Effector interface {
	NewStream(expr string) (Stream, error)
}

// DefaultEffector supports the four built-in combination strategies.
type DefaultEffector struct{}

// NewDefaultEffector returns the built-in effector.
func NewDefaultEffector() *DefaultEffector {
	return &DefaultEffector{}
}

// NewStream implements Effector.
func (DefaultEffector) NewStream(expr string) (Stream, error) {
	switch expr {
	case AllowOverride, AllowAndDeny, Priority:
		return &stream{expr: expr, res: false}, nil
	case DenyOverride:
		return &stream{expr: expr, res: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEffect, expr)
	}
}

type stream struct {
	expr string
	res  bool
	done bool
}

func (s *stream) Current() bool {
	return s.res
}

func (s *stream) PushEffect(eft Effect) (bool, bool) {
	if s.done {
		return s.res, true
	}

	switch s.expr {
	case AllowOverride:
		if eft == Allow {
			s.res = true
			s.done = true
		}
	case DenyOverride:
		if eft == Deny {
			s.res = false
			s.done = true
		}
	case AllowAndDeny:
		switch eft {
		case Allow:
			s.res = true
		case Deny:
			s.res = false
			s.done = true
		}
	case Priority:
		if eft != Indeterminate {
			s.res = eft == Allow
			s.done = true
		}
	}
	return s.res, s.done
}

// Compile-time interface verification.
var _ Effector = DefaultEffector{}
