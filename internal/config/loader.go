package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "sentinel-authz"
	envPrefix  = "SENTINEL_AUTHZ"
)

// InitViper points viper at configFile, or at the first sentinel-authz.yaml
// (or .yml) found in the working directory, ~/.sentinel-authz or the system
// config directory. Only files with a YAML extension are considered, so the
// binary itself never matches. Environment variables override file values.
func InitViper(configFile string) {
	if configFile == "" {
		configFile = locateConfig(configDirs())
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which LoadConfigRaw tolerates.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	bindNestedEnvKeys()
}

// configDirs lists the directories searched for a config file, in order.
func configDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "."+configName))
	}
	switch {
	case runtime.GOOS != "windows":
		dirs = append(dirs, filepath.Join("/etc", configName))
	case os.Getenv("ProgramData") != "":
		dirs = append(dirs, filepath.Join(os.Getenv("ProgramData"), configName))
	}
	return dirs
}

// locateConfig returns the first sentinel-authz.yaml or .yml in dirs, or "".
func locateConfig(dirs []string) string {
	for _, dir := range dirs {
		for _, name := range []string{configName + ".yaml", configName + ".yml"} {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every scalar key of Config for environment
// variable support, so SENTINEL_AUTHZ_POLICY_ADAPTER overrides policy.adapter.
// Map-valued keys such as model.sections can only be set from the file.
func bindNestedEnvKeys() {
	for _, key := range envKeys(reflect.TypeOf(Config{}), "") {
		_ = viper.BindEnv(key)
	}
}

// envKeys lists the dotted mapstructure keys of the scalar fields of t.
func envKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, envKeys(f.Type, key+".")...)
		case reflect.Map, reflect.Slice:
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

// LoadConfig loads the configuration, applies dev defaults and validates it.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the file and environment and fills defaults. Dev
// defaults and validation are left to the caller, which may still apply
// command-line overrides. A missing config file is not an error.
func LoadConfigRaw() (*Config, error) {
	var notFound viper.ConfigFileNotFoundError
	if err := viper.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("read config %s: %w", viper.ConfigFileUsed(), err)
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// ConfigFileUsed returns the loaded config file path, or "" when only
// environment variables were used.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
