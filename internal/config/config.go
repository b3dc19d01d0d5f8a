// Package config provides configuration types for sentinel-authz.
//
// A configuration names one access-control model (a file, inline text or
// nested sections), one policy adapter and the enforcer tuning knobs. The HTTP
// decision API, tracing and dev mode are optional.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
)

// Policy adapter names.
const (
	AdapterMemory = "memory"
	AdapterFile   = "file"
	AdapterSQLite = "sqlite"
)

// Config is the top-level configuration for sentinel-authz.
type Config struct {
	// Server configures the HTTP decision API listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Model selects the access-control model. Exactly one source must be set.
	Model ModelConfig `yaml:"model" mapstructure:"model"`

	// Policy selects where policy rows are loaded from and saved to.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Enforcer tunes evaluation.
	Enforcer EnforcerConfig `yaml:"enforcer" mapstructure:"enforcer"`

	// Telemetry configures OpenTelemetry tracing and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// Audit configures the decision and policy-change audit log.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// DevMode enables debug logging and an allow-all demo model when no model is configured.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// TLS is not supported; terminate it at a reverse proxy.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// ModelConfig names the model source.
type ModelConfig struct {
	// Path is an INI model file (e.g., "rbac_model.conf").
	Path string `yaml:"path" mapstructure:"path"`

	// Text is the model as inline INI text.
	Text string `yaml:"text" mapstructure:"text"`

	// Sections is the model as nested maps: section name -> key -> value.
	//
	//	sections:
	//	  request_definition: {r: "sub, obj, act"}
	//	  matchers: {m: "r.sub == p.sub"}
	Sections map[string]map[string]string `yaml:"sections" mapstructure:"sections"`
}

// Load builds the model from whichever source is set.
func (c ModelConfig) Load() (model.Model, error) {
	switch {
	case c.Path != "":
		return model.NewModelFromFile(c.Path)
	case c.Text != "":
		return model.NewModelFromText(c.Text)
	default:
		m := model.NewModel()
		if err := m.LoadModelFromConfig(model.MapConfig(c.Sections)); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// sources returns how many model sources are set.
func (c ModelConfig) sources() int {
	n := 0
	for _, set := range []bool{c.Path != "", c.Text != "", len(c.Sections) > 0} {
		if set {
			n++
		}
	}
	return n
}

// PolicyConfig selects the policy adapter.
type PolicyConfig struct {
	// Adapter is "memory", "file" or "sqlite". Defaults to "memory".
	Adapter string `yaml:"adapter" mapstructure:"adapter" validate:"omitempty,oneof=memory file sqlite"`

	// Path is the policy file for the file adapter. ".yaml"/".yml" files hold
	// a rules list; anything else holds one comma-separated row per line.
	Path string `yaml:"path" mapstructure:"path" validate:"required_if=Adapter file"`

	// Text is the initial policy for the memory adapter.
	Text string `yaml:"text" mapstructure:"text"`

	// DSN is the database for the sqlite adapter (e.g., "file:authz.db").
	DSN string `yaml:"dsn" mapstructure:"dsn" validate:"required_if=Adapter sqlite"`

	// Strict rejects the whole policy on the first malformed row instead of skipping it.
	Strict bool `yaml:"strict" mapstructure:"strict"`

	// Watch reloads the policy when the file changes. File adapter only.
	Watch bool `yaml:"watch" mapstructure:"watch"`

	// WatchDebounce coalesces bursts of file events (e.g., "200ms").
	// Defaults to "200ms" if not specified.
	WatchDebounce string `yaml:"watch_debounce" mapstructure:"watch_debounce" validate:"omitempty,duration"`
}

// EnforcerConfig tunes the enforcer.
type EnforcerConfig struct {
	// MaxHierarchyLevel bounds role inheritance depth. Defaults to 10.
	MaxHierarchyLevel int `yaml:"max_hierarchy_level" mapstructure:"max_hierarchy_level" validate:"gte=0,lte=100"`

	// CacheSize is the decision cache capacity. 0 disables caching.
	// Defaults to 1000 when not set.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"gte=0"`

	// AutoSave writes policy changes made through the API to the adapter.
	// Defaults to true.
	AutoSave bool `yaml:"auto_save" mapstructure:"auto_save"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Tracing enables spans around enforcement and reloads.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`

	// Metrics enables OpenTelemetry decision and reload counters.
	// Prometheus metrics on /metrics are always on.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`

	// MetricsInterval is the export interval for OpenTelemetry metrics (e.g., "30s").
	// Defaults to "30s".
	MetricsInterval string `yaml:"metrics_interval" mapstructure:"metrics_interval" validate:"omitempty,duration"`

	// Output is "stdout" or "file://<absolute-path>". Defaults to "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,telemetry_output"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	// Enabled records every decision and policy change.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output is "memory", "stdout" or "file://<absolute-dir>". Defaults to "memory".
	// A file output writes one JSON Lines file per UTC day into the directory.
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_output"`

	// RetentionDays is how long audit files are kept. Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"gte=0,lte=3650"`

	// MaxFileSizeMB rotates the day's file when it grows past this size. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"gte=0"`

	// RecentSize is how many records GET /v1/decisions can return. Defaults to 1000.
	RecentSize int `yaml:"recent_size" mapstructure:"recent_size" validate:"gte=0,lte=100000"`
}

// Audit output kinds.
const (
	AuditOutputMemory = "memory"
	AuditOutputStdout = "stdout"
	auditFilePrefix   = "file://"
)

// FileDir returns the directory of a file:// output, or "" for other outputs.
func (c AuditConfig) FileDir() string {
	if !strings.HasPrefix(c.Output, auditFilePrefix) {
		return ""
	}
	return strings.TrimPrefix(c.Output, auditFilePrefix)
}

// devModel allows every request when dev mode runs without a configured model.
const devModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = true
`

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if c.Model.sources() == 0 {
		c.Model.Text = devModel
	}
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only. Network access requires an explicit http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Policy.Adapter == "" {
		c.Policy.Adapter = AdapterMemory
	}
	if c.Policy.WatchDebounce == "" {
		c.Policy.WatchDebounce = "200ms"
	}

	if c.Enforcer.MaxHierarchyLevel == 0 {
		c.Enforcer.MaxHierarchyLevel = 10
	}
	// viper.IsSet distinguishes "not set" from an explicit zero or false.
	if !viper.IsSet("enforcer.cache_size") && c.Enforcer.CacheSize == 0 {
		c.Enforcer.CacheSize = 1000
	}
	if !viper.IsSet("enforcer.auto_save") {
		c.Enforcer.AutoSave = true
	}

	if c.Telemetry.Output == "" {
		c.Telemetry.Output = "stdout"
	}
	if c.Telemetry.MetricsInterval == "" {
		c.Telemetry.MetricsInterval = "30s"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = AuditOutputMemory
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.RecentSize == 0 {
		c.Audit.RecentSize = 1000
	}
}
