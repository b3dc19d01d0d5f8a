// Package persist defines the policy adapter port and the shared line loader.
package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
)

var (
	// ErrNotImplemented is returned by adapters that cannot perform an operation.
	ErrNotImplemented = errors.New("not implemented")
	// ErrUnknownPolicyType is returned for rows whose key has no assertion in the model.
	ErrUnknownPolicyType = errors.New("unknown policy type")
	// ErrMalformedLine is returned for rows that cannot be split into a key and values.
	ErrMalformedLine = errors.New("malformed policy line")
)

// Adapter loads policy rows into a model and optionally persists changes.
type Adapter interface {
	// LoadPolicy appends every stored row to m.
	LoadPolicy(m model.Model) error
	// SavePolicy replaces the stored rows with the rows of m.
	SavePolicy(m model.Model) error
	// AddPolicy stores a single row.
	AddPolicy(sec, ptype string, rule []string) error
	// RemovePolicy deletes a single row.
	RemovePolicy(sec, ptype string, rule []string) error
}

// Mode controls how malformed rows are treated during loading.
type Mode int

const (
	// Permissive skips malformed rows.
	Permissive Mode = iota
	// Strict aborts the load at the first malformed row.
	Strict
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "permissive"
}

// LoadPolicyLine parses one "key, v1, v2, ..." row and appends it to m.
// Blank lines and lines starting with "#" are ignored.
func LoadPolicyLine(line string, m model.Model) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return LoadPolicyArray(fields, m)
}

// LoadPolicyArray appends the row fields[1:] to the assertion named by fields[0].
func LoadPolicyArray(fields []string, m model.Model) error {
	if len(fields) < 2 || fields[0] == "" {
		return fmt.Errorf("%w: %q", ErrMalformedLine, strings.Join(fields, ", "))
	}

	key := fields[0]
	sec := key[:1]
	row := append([]string(nil), fields[1:]...)
	if !m.AppendRow(sec, key, row) {
		return fmt.Errorf("%w: %s", ErrUnknownPolicyType, key)
	}
	return nil
}

// LineHandler applies a Mode to row errors. It returns nil for skipped rows
// (after calling onSkip) and the error itself in strict mode.
func LineHandler(mode Mode, onSkip func(line string, err error)) func(line string, err error) error {
	return func(line string, err error) error {
		if err == nil {
			return nil
		}
		if mode == Strict {
			return err
		}
		if onSkip != nil {
			onSkip(line, err)
		}
		return nil
	}
}

// LoadLines loads every line into m. In permissive mode malformed lines are
// logged at debug level and skipped.
func LoadLines(lines []string, m model.Model, mode Mode, logger *slog.Logger) error {
	handle := LineHandler(mode, func(line string, err error) {
		logger.Debug("skipping policy line", "line", line, "error", err)
	})
	for i, line := range lines {
		if err := handle(line, LoadPolicyLine(line, m)); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// PolicyRows returns every policy and role row of m prefixed with its key,
// policy rows first, each section in key order.
func PolicyRows(m model.Model) [][]string {
	var rows [][]string
	for _, sec := range []string{model.SectionPolicy, model.SectionRole} {
		keys := make([]string, 0, len(m[sec]))
		for key := range m[sec] {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			for _, rule := range m[sec][key].Policy {
				rows = append(rows, append([]string{key}, rule...))
			}
		}
	}
	return rows
}

// FormatRule renders a row in policy text form: "p, alice, data1, read".
func FormatRule(ptype string, rule []string) string {
	return ptype + ", " + strings.Join(rule, ", ")
}
