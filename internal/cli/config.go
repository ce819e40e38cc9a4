package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/config"
	"github.com/quorumgate/quorumgate/internal/output"
)

var flagConfigInit bool

func init() {
	configCmd.Flags().BoolVar(&flagConfigInit, "init", false, "write a starter project config file")

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after applying precedence:
defaults < user config < project config < environment < flags.

Pass --init to write a starter .quorumgate/config.toml in the project
directory instead.

	Examples:
	  quorumgate config
	  quorumgate config --init`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagConfigInit {
			return writeStarterConfig()
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Server.AuthSecret != "" {
			cfg.Server.AuthSecret = "<redacted>"
		}

		if output.IsJSON() {
			return output.JSON(cfg)
		}

		userPath, projectPath := config.ConfigPaths(flagProject, flagConfig)
		fmt.Printf("# user config:    %s\n", userPath)
		fmt.Printf("# project config: %s\n\n", projectPath)
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	},
}

func writeStarterConfig() error {
	dir := flagProject
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving project directory: %w", err)
		}
		dir = cwd
	}
	_, path := config.ConfigPaths(dir, flagConfig)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config.DefaultConfig()); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}
