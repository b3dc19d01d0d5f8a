// Package file provides a policy adapter backed by a text or YAML file.
package file

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
)

// Adapter implements persist.Adapter over a policy file.
//
// Files ending in .yaml or .yml hold a "rules" list of rows, each row starting
// with its policy type:
//
//	rules:
//	  - [p, alice, data1, read]
//	  - [g, alice, admin]
//
// Any other file holds one comma-separated row per line.
type Adapter struct {
	path   string
	mode   persist.Mode
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMode sets how malformed rows are treated on load.
func WithMode(mode persist.Mode) Option {
	return func(a *Adapter) {
		a.mode = mode
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter creates an adapter for the file at path.
func NewAdapter(path string, opts ...Option) *Adapter {
	a := &Adapter{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Path returns the policy file path.
func (a *Adapter) Path() string {
	return a.path
}

// LoadPolicy appends every row of the file to m. A missing file loads nothing.
func (a *Adapter) LoadPolicy(m model.Model) error {
	a.mu.Lock()
	rows, err := a.readRows()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	handle := persist.LineHandler(a.mode, func(line string, err error) {
		a.logger.Debug("skipping policy row", "path", a.path, "row", line, "error", err)
	})
	for i, row := range rows {
		if err := handle(strings.Join(row, ", "), persist.LoadPolicyArray(row, m)); err != nil {
			return fmt.Errorf("%s row %d: %w", a.path, i+1, err)
		}
	}
	return nil
}

// SavePolicy replaces the file contents with the rows of m.
func (a *Adapter) SavePolicy(m model.Model) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeRows(persist.PolicyRows(m))
}

// AddPolicy appends one row to the file unless it is already present.
func (a *Adapter) AddPolicy(_, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.readRows()
	if err != nil {
		return err
	}
	row := append([]string{ptype}, rule...)
	if slices.ContainsFunc(rows, func(r []string) bool { return slices.Equal(r, row) }) {
		return nil
	}
	return a.writeRows(append(rows, row))
}

// RemovePolicy deletes one row from the file. Missing rows are ignored.
func (a *Adapter) RemovePolicy(_, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.readRows()
	if err != nil {
		return err
	}
	row := append([]string{ptype}, rule...)
	i := slices.IndexFunc(rows, func(r []string) bool { return slices.Equal(r, row) })
	if i < 0 {
		return nil
	}
	return a.writeRows(slices.Delete(rows, i, i+1))
}

func (a *Adapter) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(a.path))
	return ext == ".yaml" || ext == ".yml"
}

// policyFile is the YAML document layout.
type policyFile struct {
	Rules []flowRow `yaml:"rules"`
}

// flowRow marshals as a single-line YAML sequence.
type flowRow []string

// MarshalYAML implements yaml.Marshaler.
func (r flowRow) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range r {
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
	}
	return n, nil
}

// readRows parses the file into trimmed rows. Caller holds a.mu.
func (a *Adapter) readRows() ([][]string, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Info("policy file not found, starting empty", "path", a.path)
			return nil, nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	if a.isYAML() {
		var doc policyFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse policy file: %w", err)
		}
		rows := make([][]string, 0, len(doc.Rules))
		for _, r := range doc.Rules {
			rows = append(rows, trimFields(r))
		}
		return rows, nil
	}

	var rows [][]string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rows = append(rows, trimFields(strings.Split(line, ",")))
	}
	return rows, nil
}

// writeRows encodes rows in the file's format and saves them. Caller holds a.mu.
func (a *Adapter) writeRows(rows [][]string) error {
	var buf bytes.Buffer
	if a.isYAML() {
		doc := policyFile{Rules: make([]flowRow, len(rows))}
		for i, r := range rows {
			doc.Rules[i] = r
		}
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("marshal policy: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("marshal policy: %w", err)
		}
	} else {
		for _, r := range rows {
			buf.WriteString(persist.FormatRule(r[0], r[1:]))
			buf.WriteByte('\n')
		}
	}
	return a.save(buf.Bytes())
}

// save writes data to the policy file atomically.
//
// The write sequence is:
//  1. Acquire flock on path+".lock"
//  2. Copy current file to path+".bak" (ignored if no current file)
//  3. Write to path+".tmp", fsync
//  4. Rename path+".tmp" -> path
//  5. Release flock
func (a *Adapter) save(data []byte) error {
	lock, err := os.OpenFile(a.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lock.Close() }()

	if err := lockFile(lock); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer unlockFile(lock) //nolint:errcheck

	if current, readErr := os.ReadFile(a.path); readErr == nil {
		if writeErr := os.WriteFile(a.path+".bak", current, 0600); writeErr != nil {
			a.logger.Warn("failed to create policy backup", "error", writeErr)
		}
	}

	if err := writeAtomic(a.path, data); err != nil {
		return err
	}
	a.logger.Debug("policy saved", "path", a.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over path.
// On any error the temp file is removed.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to policy file: %w", err)
	}
	return nil
}

func trimFields(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	return out
}

// Compile-time interface verification.
var _ persist.Adapter = (*Adapter)(nil)
