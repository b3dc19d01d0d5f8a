package model

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// Config supplies model definition values by "section::option" key,
// e.g. "request_definition::r".
type Config interface {
	String(key string) string
}

// loadOptions keeps matcher text intact: no inline comments, no quote stripping.
var loadOptions = ini.LoadOptions{
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
}

// iniConfig is a Config backed by an INI document.
type iniConfig struct {
	file *ini.File
}

// NewConfigFromText parses an INI-style model definition.
func NewConfigFromText(text string) (Config, error) {
	f, err := ini.LoadSources(loadOptions, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("parse model text: %w", err)
	}
	return &iniConfig{file: f}, nil
}

// NewConfigFromFile reads and parses an INI-style model definition file.
func NewConfigFromFile(path string) (Config, error) {
	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("load model file %s: %w", path, err)
	}
	return &iniConfig{file: f}, nil
}

// String implements Config. Missing sections or options yield "".
func (c *iniConfig) String(key string) string {
	section, option, ok := splitKey(key)
	if !ok {
		return ""
	}
	sec, err := c.file.GetSection(section)
	if err != nil || !sec.HasKey(option) {
		return ""
	}
	return strings.TrimSpace(sec.Key(option).String())
}

// MapConfig is a Config built from nested maps (section -> option -> value),
// as produced by the YAML service configuration.
type MapConfig map[string]map[string]string

// String implements Config.
func (c MapConfig) String(key string) string {
	section, option, ok := splitKey(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(c[section][option])
}

func splitKey(key string) (string, string, bool) {
	section, option, ok := strings.Cut(key, "::")
	if !ok {
		return "", "", false
	}
	return section, option, true
}
