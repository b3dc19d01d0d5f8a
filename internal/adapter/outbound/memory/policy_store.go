// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
)

// PolicyAdapter implements persist.Adapter over policy text held in memory.
// Thread-safe for concurrent access.
type PolicyAdapter struct {
	lines  []string
	mode   persist.Mode
	logger *slog.Logger
	mu     sync.RWMutex
}

// Option configures a PolicyAdapter.
type Option func(*PolicyAdapter)

// WithMode sets how malformed lines are treated on load.
func WithMode(mode persist.Mode) Option {
	return func(a *PolicyAdapter) {
		a.mode = mode
	}
}

// WithLogger sets the logger used for skipped lines.
func WithLogger(logger *slog.Logger) Option {
	return func(a *PolicyAdapter) {
		a.logger = logger
	}
}

// NewPolicyAdapter creates an adapter over newline-separated policy text.
func NewPolicyAdapter(text string, opts ...Option) *PolicyAdapter {
	a := &PolicyAdapter{
		lines:  strings.Split(text, "\n"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LoadPolicy appends every row of the text to m.
func (a *PolicyAdapter) LoadPolicy(m model.Model) error {
	a.mu.RLock()
	lines := slices.Clone(a.lines)
	a.mu.RUnlock()

	return persist.LoadLines(lines, m, a.mode, a.logger)
}

// SavePolicy regenerates the text from the rows of m.
func (a *PolicyAdapter) SavePolicy(m model.Model) error {
	rows := persist.PolicyRows(m)
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = persist.FormatRule(row[0], row[1:])
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = lines
	return nil
}

// AddPolicy appends one row unless an identical row exists.
func (a *PolicyAdapter) AddPolicy(_, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.indexLocked(ptype, rule) >= 0 {
		return nil
	}
	a.lines = append(a.lines, persist.FormatRule(ptype, rule))
	return nil
}

// RemovePolicy removes one row. Missing rows are ignored.
func (a *PolicyAdapter) RemovePolicy(_, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexLocked(ptype, rule); i >= 0 {
		a.lines = slices.Delete(a.lines, i, i+1)
	}
	return nil
}

// Text returns the current policy text.
func (a *PolicyAdapter) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return strings.Join(a.lines, "\n")
}

// indexLocked finds the line holding ptype/rule, ignoring whitespace around fields.
// Caller holds a.mu.
func (a *PolicyAdapter) indexLocked(ptype string, rule []string) int {
	want := append([]string{ptype}, rule...)
	for i, line := range a.lines {
		fields := strings.Split(line, ",")
		for j := range fields {
			fields[j] = strings.TrimSpace(fields[j])
		}
		if slices.Equal(fields, want) {
			return i
		}
	}
	return -1
}

// Compile-time interface verification.
var _ persist.Adapter = (*PolicyAdapter)(nil)
