// Package config implements hierarchical configuration for quorumgate.
// Precedence: defaults < user (~/.quorumgate/config.toml) < project
// (.quorumgate/config.toml) < env (QGATE_*) < flags.
package config

// Config is the top-level configuration structure.
type Config struct {
	General GeneralConfig `toml:"general" mapstructure:"general"`
	Backend BackendConfig `toml:"backend" mapstructure:"backend"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
}

// GeneralConfig holds core behavior knobs.
type GeneralConfig struct {
	LedgerPath string `toml:"ledger_path" mapstructure:"ledger_path"`
	LogLevel   string `toml:"log_level" mapstructure:"log_level"`
	// LogLimit caps change-log listings (0 = unlimited).
	LogLimit int `toml:"log_limit" mapstructure:"log_limit"`
}

// BackendConfig holds identity backend settings. Realm, ClientID, and
// KeyID are opaque strings passed through to the backend untouched.
type BackendConfig struct {
	BaseURL      string `toml:"base_url" mapstructure:"base_url"`
	Realm        string `toml:"realm" mapstructure:"realm"`
	ClientID     string `toml:"client_id" mapstructure:"client_id"`
	KeyID        string `toml:"key_id" mapstructure:"key_id"`
	TimeoutSecs  int    `toml:"timeout_seconds" mapstructure:"timeout_seconds"`
	LocalMode    bool   `toml:"local_mode" mapstructure:"local_mode"`
	LocalTTLMins int    `toml:"local_ttl_minutes" mapstructure:"local_ttl_minutes"`
}

// ServerConfig holds HTTP application layer settings.
type ServerConfig struct {
	ListenAddr   string `toml:"listen_addr" mapstructure:"listen_addr"`
	AuthRequired bool   `toml:"auth_required" mapstructure:"auth_required"`
	// AuthSecret is the HS256 secret for approver bearer tokens.
	AuthSecret string `toml:"auth_secret" mapstructure:"auth_secret"`
}
