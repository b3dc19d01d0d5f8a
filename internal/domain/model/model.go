// Package model parses access-control model definitions into assertions and holds
// the policy rows bound to them.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Section codes.
const (
	SectionRequest = "r"
	SectionPolicy  = "p"
	SectionRole    = "g"
	SectionEffect  = "e"
	SectionMatcher = "m"
)

// sectionNames maps section codes to their names in the definition text.
var sectionNames = map[string]string{
	SectionRequest: "request_definition",
	SectionPolicy:  "policy_definition",
	SectionRole:    "role_definition",
	SectionEffect:  "policy_effect",
	SectionMatcher: "matchers",
}

// sectionOrder is the order sections are loaded in.
var sectionOrder = []string{SectionRequest, SectionPolicy, SectionRole, SectionEffect, SectionMatcher}

// requiredSections must be present after loading.
var requiredSections = []string{SectionRequest, SectionPolicy, SectionEffect, SectionMatcher}

var (
	// ErrMissingRequiredSections is returned when a model lacks r, p, e or m.
	ErrMissingRequiredSections = errors.New("missing required sections")
	// ErrInvalidGroupingRow is returned when a role row has fewer fields than its definition.
	ErrInvalidGroupingRow = errors.New("grouping policy elements do not meet role definition")
)

// AssertionMap holds the assertions of one section, keyed by assertion key (p, p2, ...).
type AssertionMap map[string]*Assertion

// Model is a parsed access-control model: section code -> assertions.
type Model map[string]AssertionMap

// NewModel returns an empty model.
func NewModel() Model {
	return make(Model)
}

// NewModelFromText parses a model definition.
func NewModelFromText(text string) (Model, error) {
	m := NewModel()
	if err := m.LoadModelFromText(text); err != nil {
		return nil, err
	}
	return m, nil
}

// NewModelFromFile parses a model definition file.
func NewModelFromFile(path string) (Model, error) {
	cfg, err := NewConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	m := NewModel()
	if err := m.LoadModelFromConfig(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadModelFromText parses text and loads its sections.
func (m Model) LoadModelFromText(text string) error {
	cfg, err := NewConfigFromText(text)
	if err != nil {
		return err
	}
	return m.LoadModelFromConfig(cfg)
}

// LoadModelFromConfig loads every section from cfg: the base key, then numbered
// variants until one is missing. Fails if a required section is absent.
func (m Model) LoadModelFromConfig(cfg Config) error {
	for _, sec := range sectionOrder {
		m.loadSection(cfg, sec)
	}

	var missing []string
	for _, sec := range requiredSections {
		if len(m[sec]) == 0 {
			missing = append(missing, sectionNames[sec])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequiredSections, strings.Join(missing, ", "))
	}
	return nil
}

func (m Model) loadSection(cfg Config, sec string) {
	for i := 1; ; i++ {
		key := sec
		if i > 1 {
			key = sec + strconv.Itoa(i)
		}
		if !m.AddDef(sec, key, cfg.String(sectionNames[sec]+"::"+key)) {
			return
		}
	}
}

// AddDef adds one assertion definition. It returns false, storing nothing, when
// value is empty.
func (m Model) AddDef(sec, key, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}

	ast := &Assertion{Key: key, Value: value}
	switch sec {
	case SectionRequest, SectionPolicy:
		fields := strings.Split(value, ",")
		ast.Tokens = make([]string, len(fields))
		for i, f := range fields {
			ast.Tokens[i] = key + "_" + strings.TrimSpace(f)
		}
	case SectionMatcher:
		ast.Value = escapeMatcher(value)
	default:
		ast.Value = escapeAssertion(value)
	}

	if m[sec] == nil {
		m[sec] = make(AssertionMap)
	}
	m[sec][key] = ast
	return true
}

// Assertion returns the assertion sec/key, or nil.
func (m Model) Assertion(sec, key string) *Assertion {
	return m[sec][key]
}

// attributeAccess matches "r." / "p2." at an identifier boundary.
var attributeAccess = regexp.MustCompile(`\b([rp][0-9]*)\.`)

// stringLiteral matches a double-quoted literal with escapes.
var stringLiteral = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)

// escapeAssertion rewrites r.sub / p.obj into the token names r_sub / p_obj.
func escapeAssertion(s string) string {
	return attributeAccess.ReplaceAllString(s, "${1}_")
}

// escapeMatcher is escapeAssertion that leaves double-quoted literals untouched.
func escapeMatcher(s string) string {
	var literals []string
	masked := stringLiteral.ReplaceAllStringFunc(s, func(lit string) string {
		literals = append(literals, lit)
		return placeholder(len(literals) - 1)
	})

	out := escapeAssertion(masked)
	for i, lit := range literals {
		out = strings.Replace(out, placeholder(i), lit, 1)
	}
	return out
}

// EscapeMatcher applies the matcher rewriting to an expression supplied at
// enforcement time.
func EscapeMatcher(s string) string {
	return escapeMatcher(s)
}

func placeholder(i int) string {
	return "__lit" + strconv.Itoa(i) + "__"
}

// PrintModel logs every assertion.
func (m Model) PrintModel(logger *slog.Logger) {
	for _, sec := range sortedKeys(m) {
		for _, key := range sortedKeys(m[sec]) {
			logger.Info("model", "section", sec, "key", key, "value", m[sec][key].Value)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
