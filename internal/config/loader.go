package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ProjectDir is used to locate .quorumgate/config.toml. Defaults to CWD when empty.
	ProjectDir string
	// ConfigPath overrides the project config path if provided.
	ConfigPath string
	// FlagOverrides are highest-priority overrides from CLI flags (dot-notated keys).
	FlagOverrides map[string]any
}

// Load returns the effective configuration after applying precedence:
// defaults < user (~/.quorumgate/config.toml) < project (.quorumgate/config.toml) < env (QGATE_*) < flags.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	projectDir := opts.ProjectDir
	if projectDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectDir = cwd
		}
	}

	// 1) User config
	if err := mergeConfigFile(v, userConfigPath()); err != nil {
		return Config{}, err
	}
	// 2) Project config
	if err := mergeConfigFile(v, projectConfigPath(projectDir, opts.ConfigPath)); err != nil {
		return Config{}, err
	}
	// 3) Environment variables
	if err := applyEnvOverrides(v); err != nil {
		return Config{}, err
	}
	// 4) CLI flags (highest)
	applyFlagOverrides(v, opts.FlagOverrides)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds viper with built-in defaults.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("general.ledger_path", def.General.LedgerPath)
	v.SetDefault("general.log_level", def.General.LogLevel)
	v.SetDefault("general.log_limit", def.General.LogLimit)

	v.SetDefault("backend.base_url", def.Backend.BaseURL)
	v.SetDefault("backend.realm", def.Backend.Realm)
	v.SetDefault("backend.client_id", def.Backend.ClientID)
	v.SetDefault("backend.key_id", def.Backend.KeyID)
	v.SetDefault("backend.timeout_seconds", def.Backend.TimeoutSecs)
	v.SetDefault("backend.local_mode", def.Backend.LocalMode)
	v.SetDefault("backend.local_ttl_minutes", def.Backend.LocalTTLMins)

	v.SetDefault("server.listen_addr", def.Server.ListenAddr)
	v.SetDefault("server.auth_required", def.Server.AuthRequired)
	v.SetDefault("server.auth_secret", def.Server.AuthSecret)
}

// valueKind tags how an env var string should be parsed.
type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
)

// envBindings maps QGATE_* env vars to config keys.
var envBindings = []struct {
	Env  string
	Key  string
	Kind valueKind
}{
	{"QGATE_LEDGER_PATH", "general.ledger_path", kindString},
	{"QGATE_LOG_LEVEL", "general.log_level", kindString},
	{"QGATE_LOG_LIMIT", "general.log_limit", kindInt},
	{"QGATE_BACKEND_URL", "backend.base_url", kindString},
	{"QGATE_BACKEND_REALM", "backend.realm", kindString},
	{"QGATE_BACKEND_CLIENT_ID", "backend.client_id", kindString},
	{"QGATE_BACKEND_KEY_ID", "backend.key_id", kindString},
	{"QGATE_BACKEND_TIMEOUT", "backend.timeout_seconds", kindInt},
	{"QGATE_BACKEND_LOCAL_MODE", "backend.local_mode", kindBool},
	{"QGATE_BACKEND_LOCAL_TTL", "backend.local_ttl_minutes", kindInt},
	{"QGATE_LISTEN_ADDR", "server.listen_addr", kindString},
	{"QGATE_AUTH_REQUIRED", "server.auth_required", kindBool},
	{"QGATE_AUTH_SECRET", "server.auth_secret", kindString},
}

// mergeConfigFile merges the TOML config file if it exists.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides reads QGATE_* env vars and applies them.
func applyEnvOverrides(v *viper.Viper) error {
	for _, binding := range envBindings {
		val := os.Getenv(binding.Env)
		if val == "" {
			continue
		}
		parsed, err := parseValueByKind(val, binding.Kind)
		if err != nil {
			return fmt.Errorf("env %s: %w", binding.Env, err)
		}
		v.Set(binding.Key, parsed)
	}
	return nil
}

// applyFlagOverrides applies CLI overrides as highest-precedence values.
func applyFlagOverrides(v *viper.Viper, overrides map[string]any) {
	for k, val := range overrides {
		v.Set(k, val)
	}
}

// ConfigPaths returns the user and project config file paths.
func ConfigPaths(projectDir, configOverride string) (string, string) {
	return userConfigPath(), projectConfigPath(projectDir, configOverride)
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".quorumgate", "config.toml")
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	if projectDir == "" {
		return ".quorumgate/config.toml"
	}
	return filepath.Join(projectDir, ".quorumgate", "config.toml")
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", raw)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected boolean, got %q", raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}
