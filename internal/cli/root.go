// Package cli implements the quorumgate command line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/config"
	"github.com/quorumgate/quorumgate/internal/coordinator"
	"github.com/quorumgate/quorumgate/internal/gateway"
	"github.com/quorumgate/quorumgate/internal/ledger"
	"github.com/quorumgate/quorumgate/internal/logging"
	"github.com/quorumgate/quorumgate/internal/output"
)

var (
	flagConfig  string
	flagLedger  string
	flagProject string
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "quorumgate",
	Short: "Quorum-gated change authorization engine",
	Long: `quorumgate gates changes behind a threshold policy: role grants,
policy drafts, and application signing requests accumulate independent
approvals until the governing policy's quorum is met, then are
cryptographically executed through the identity backend.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		output.SetJSON(flagJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagLedger, "ledger", "", "path to ledger database")
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "project directory (defaults to CWD)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if output.IsJSON() {
			_ = output.JSONError(err, 1)
		}
		os.Exit(1)
	}
}

// loadConfig loads the effective configuration for the current
// invocation.
func loadConfig() (config.Config, error) {
	overrides := map[string]any{}
	if flagLedger != "" {
		overrides["general.ledger_path"] = flagLedger
	}
	return config.Load(config.LoadOptions{
		ProjectDir:    flagProject,
		ConfigPath:    flagConfig,
		FlagOverrides: overrides,
	})
}

// ledgerPath resolves the ledger database path from config, falling
// back to <project>/.quorumgate/ledger.db.
func ledgerPath(cfg config.Config) string {
	if cfg.General.LedgerPath != "" {
		return cfg.General.LedgerPath
	}
	dir := flagProject
	if dir == "" {
		if cwd, err := os.Getwd(); err == nil {
			dir = cwd
		}
	}
	return filepath.Join(dir, ".quorumgate", "ledger.db")
}

// openLedger opens the ledger for the current invocation.
func openLedger(cfg config.Config) (*ledger.Ledger, error) {
	l, err := ledger.OpenAndMigrate(ledgerPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return l, nil
}

// newCoordinator builds a coordinator over the ledger with the
// configured log level.
func newCoordinator(l *ledger.Ledger, cfg config.Config) *coordinator.Coordinator {
	opts := logging.DefaultOptions()
	opts.Level = cfg.General.LogLevel
	if level := os.Getenv("QGATE_LOG_LEVEL"); level != "" {
		opts.Level = level
	}
	return coordinator.New(l, logging.Init(opts))
}

// buildGateway constructs the configured gateway: the HTTP client
// against the identity backend, or the in-process signer in local
// mode.
func buildGateway(cfg config.Config) (gateway.Gateway, error) {
	if cfg.Backend.LocalMode {
		return gateway.NewLocalSigner(time.Duration(cfg.Backend.LocalTTLMins) * time.Minute)
	}
	return gateway.NewClient(gateway.ClientOptions{
		BaseURL:  cfg.Backend.BaseURL,
		Realm:    cfg.Backend.Realm,
		ClientID: cfg.Backend.ClientID,
		KeyID:    cfg.Backend.KeyID,
		Timeout:  time.Duration(cfg.Backend.TimeoutSecs) * time.Second,
	}), nil
}
