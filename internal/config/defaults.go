package config

// DefaultConfig returns the built-in default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			LedgerPath: "",
			LogLevel:   "info",
			LogLimit:   200,
		},
		Backend: BackendConfig{
			BaseURL:      "http://localhost:8440",
			Realm:        "default",
			ClientID:     "",
			KeyID:        "",
			TimeoutSecs:  30,
			LocalMode:    false,
			LocalTTLMins: 60,
		},
		Server: ServerConfig{
			ListenAddr:   "127.0.0.1:8441",
			AuthRequired: false,
			AuthSecret:   "",
		},
	}
}
