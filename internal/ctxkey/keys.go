// Package ctxkey defines shared context key types used across multiple packages.
// This package must not import other internal packages.
package ctxkey

// LoggerKey is the context key type for the request-scoped logger.
type LoggerKey struct{}

// RequestIDKey is the context key type for the request ID. The HTTP layer
// sets it; the decision log reads it.
type RequestIDKey struct{}
