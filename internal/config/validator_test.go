package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	cfg := &Config{Model: ModelConfig{Text: testModelText}}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := minimalValidConfig().Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "no model",
			mutate: func(c *Config) { c.Model = ModelConfig{} },
			want:   "one of path, text or sections is required",
		},
		{
			name:   "two models",
			mutate: func(c *Config) { c.Model.Path = "model.conf" },
			want:   "not several",
		},
		{
			name:   "unknown adapter",
			mutate: func(c *Config) { c.Policy.Adapter = "redis" },
			want:   "Config.Policy.Adapter must be one of: memory file sqlite",
		},
		{
			name:   "file adapter without path",
			mutate: func(c *Config) { c.Policy.Adapter = AdapterFile },
			want:   "Config.Policy.Path is required when Adapter is file",
		},
		{
			name:   "sqlite adapter without dsn",
			mutate: func(c *Config) { c.Policy.Adapter = AdapterSQLite },
			want:   "Config.Policy.DSN is required when Adapter is sqlite",
		},
		{
			name:   "watch without file adapter",
			mutate: func(c *Config) { c.Policy.Watch = true },
			want:   "policy.watch requires the file adapter",
		},
		{
			name:   "bad debounce",
			mutate: func(c *Config) { c.Policy.WatchDebounce = "soon" },
			want:   "Config.Policy.WatchDebounce must be a positive duration",
		},
		{
			name:   "negative cache size",
			mutate: func(c *Config) { c.Enforcer.CacheSize = -1 },
			want:   "Config.Enforcer.CacheSize must be at least 0",
		},
		{
			name:   "hierarchy too deep",
			mutate: func(c *Config) { c.Enforcer.MaxHierarchyLevel = 1000 },
			want:   "Config.Enforcer.MaxHierarchyLevel must be at most 100",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Server.LogLevel = "trace" },
			want:   "Config.Server.LogLevel must be one of",
		},
		{
			name:   "bad listen address",
			mutate: func(c *Config) { c.Server.HTTPAddr = "localhost" },
			want:   "Config.Server.HTTPAddr must be a valid host:port",
		},
		{
			name:   "relative telemetry file",
			mutate: func(c *Config) { c.Telemetry.Output = "file://traces.json" },
			want:   "Config.Telemetry.Output must be 'stdout' or 'file://<absolute-path>'",
		},
		{
			name:   "bad metrics interval",
			mutate: func(c *Config) { c.Telemetry.MetricsInterval = "-1s" },
			want:   "Config.Telemetry.MetricsInterval must be a positive duration",
		},
		{
			name:   "relative audit dir",
			mutate: func(c *Config) { c.Audit.Output = "file://audit" },
			want:   "Config.Audit.Output must be 'memory', 'stdout' or 'file://<absolute-dir>'",
		},
		{
			name:   "unknown audit output",
			mutate: func(c *Config) { c.Audit.Output = "syslog" },
			want:   "Config.Audit.Output must be",
		},
		{
			name:   "negative audit retention",
			mutate: func(c *Config) { c.Audit.RetentionDays = -1 },
			want:   "Config.Audit.RetentionDays must be at least 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := minimalValidConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidate_ValidVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"file adapter with watch", func(c *Config) {
			c.Policy.Adapter = AdapterFile
			c.Policy.Path = "policy.csv"
			c.Policy.Watch = true
		}},
		{"sqlite adapter", func(c *Config) {
			c.Policy.Adapter = AdapterSQLite
			c.Policy.DSN = "file:authz.db"
		}},
		{"cache disabled", func(c *Config) { c.Enforcer.CacheSize = 0 }},
		{"telemetry file", func(c *Config) { c.Telemetry.Output = "file:///var/log/telemetry.json" }},
		{"audit to stdout", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.Output = AuditOutputStdout
		}},
		{"audit to dir", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.Output = "file:///var/log/sentinel-authz"
		}},
		{"any interface", func(c *Config) { c.Server.HTTPAddr = ":8080" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
