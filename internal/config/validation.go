package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for semantic errors.
func Validate(cfg Config) error {
	var errs []string

	if !oneOf(cfg.General.LogLevel, "debug", "info", "warn", "warning", "error", "fatal") {
		errs = append(errs, "general.log_level must be one of debug|info|warn|error|fatal")
	}
	if cfg.General.LogLimit < 0 {
		errs = append(errs, "general.log_limit cannot be negative")
	}

	if cfg.Backend.TimeoutSecs <= 0 {
		errs = append(errs, "backend.timeout_seconds must be > 0")
	}
	if cfg.Backend.LocalTTLMins <= 0 {
		errs = append(errs, "backend.local_ttl_minutes must be > 0")
	}
	if !cfg.Backend.LocalMode {
		if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
			errs = append(errs, "backend.base_url is required unless backend.local_mode is set")
		}
		if strings.TrimSpace(cfg.Backend.Realm) == "" {
			errs = append(errs, "backend.realm is required unless backend.local_mode is set")
		}
	}

	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		errs = append(errs, "server.listen_addr is required")
	}
	if cfg.Server.AuthRequired && strings.TrimSpace(cfg.Server.AuthSecret) == "" {
		errs = append(errs, "server.auth_secret is required when server.auth_required is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func oneOf(val string, options ...string) bool {
	for _, opt := range options {
		if val == opt {
			return true
		}
	}
	return false
}
