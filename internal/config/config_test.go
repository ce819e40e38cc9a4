package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolateHome keeps a developer's real ~/.quorumgate/config.toml out
// of the test.
func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	isolateHome(t)
	cfg, err := Load(LoadOptions{ProjectDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("log_level=%q want info", cfg.General.LogLevel)
	}
	if cfg.General.LogLimit != 200 {
		t.Errorf("log_limit=%d want 200", cfg.General.LogLimit)
	}
	if cfg.Backend.BaseURL != "http://localhost:8440" {
		t.Errorf("base_url=%q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Realm != "default" {
		t.Errorf("realm=%q want default", cfg.Backend.Realm)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:8441" {
		t.Errorf("listen_addr=%q", cfg.Server.ListenAddr)
	}
}

func TestLoad_ProjectConfigFile(t *testing.T) {
	isolateHome(t)
	projectDir := t.TempDir()
	confDir := filepath.Join(projectDir, ".quorumgate")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	content := `
[general]
log_level = "debug"

[backend]
realm = "staging"
timeout_seconds = 5
`
	if err := os.WriteFile(filepath.Join(confDir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(LoadOptions{ProjectDir: projectDir})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Errorf("log_level=%q want debug", cfg.General.LogLevel)
	}
	if cfg.Backend.Realm != "staging" {
		t.Errorf("realm=%q want staging", cfg.Backend.Realm)
	}
	if cfg.Backend.TimeoutSecs != 5 {
		t.Errorf("timeout_seconds=%d want 5", cfg.Backend.TimeoutSecs)
	}
	// Untouched keys keep their defaults.
	if cfg.Backend.BaseURL != "http://localhost:8440" {
		t.Errorf("base_url=%q", cfg.Backend.BaseURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolateHome(t)
	projectDir := t.TempDir()
	confDir := filepath.Join(projectDir, ".quorumgate")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(confDir, "config.toml"),
		[]byte("[general]\nlog_level = \"debug\"\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv("QGATE_LOG_LEVEL", "error")
	t.Setenv("QGATE_BACKEND_LOCAL_MODE", "true")
	t.Setenv("QGATE_LOG_LIMIT", "50")

	cfg, err := Load(LoadOptions{ProjectDir: projectDir})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.LogLevel != "error" {
		t.Errorf("log_level=%q want error (env over file)", cfg.General.LogLevel)
	}
	if !cfg.Backend.LocalMode {
		t.Errorf("local_mode not applied from env")
	}
	if cfg.General.LogLimit != 50 {
		t.Errorf("log_limit=%d want 50", cfg.General.LogLimit)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	isolateHome(t)
	t.Setenv("QGATE_LOG_LEVEL", "error")

	cfg, err := Load(LoadOptions{
		ProjectDir:    t.TempDir(),
		FlagOverrides: map[string]any{"general.log_level": "warn"},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.LogLevel != "warn" {
		t.Errorf("log_level=%q want warn (flag over env)", cfg.General.LogLevel)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolateHome(t)
	t.Setenv("QGATE_LOG_LIMIT", "lots")

	_, err := Load(LoadOptions{ProjectDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "QGATE_LOG_LIMIT") {
		t.Errorf("expected QGATE_LOG_LIMIT parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad log level", func(c *Config) { c.General.LogLevel = "chatty" }, "log_level"},
		{"negative log limit", func(c *Config) { c.General.LogLimit = -1 }, "log_limit"},
		{"zero timeout", func(c *Config) { c.Backend.TimeoutSecs = 0 }, "timeout_seconds"},
		{"missing realm", func(c *Config) { c.Backend.Realm = "" }, "realm"},
		{"local mode without realm", func(c *Config) {
			c.Backend.LocalMode = true
			c.Backend.Realm = ""
			c.Backend.BaseURL = ""
		}, ""},
		{"missing listen addr", func(c *Config) { c.Server.ListenAddr = "" }, "listen_addr"},
		{"auth without secret", func(c *Config) { c.Server.AuthRequired = true }, "auth_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigPaths(t *testing.T) {
	user, project := ConfigPaths("/some/project", "")
	if !strings.HasSuffix(user, filepath.Join(".quorumgate", "config.toml")) {
		t.Errorf("user path=%q", user)
	}
	if project != filepath.Join("/some/project", ".quorumgate", "config.toml") {
		t.Errorf("project path=%q", project)
	}

	_, overridden := ConfigPaths("/some/project", "/etc/custom.toml")
	if overridden != "/etc/custom.toml" {
		t.Errorf("override path=%q", overridden)
	}
}
