package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/output"
)

var flagLogsLimit int

func init() {
	logsCmd.Flags().IntVarP(&flagLogsLimit, "limit", "n", 0, "maximum entries to show (0 = config default)")

	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the change log",
	Long:  `Show the append-only change log, newest entries first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		limit := flagLogsLimit
		if limit == 0 {
			limit = cfg.General.LogLimit
		}
		entries, err := l.ListLogs(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("listing change logs: %w", err)
		}

		if output.IsJSON() {
			return output.JSON(map[string]any{"logs": entries})
		}

		if len(entries) == 0 {
			fmt.Println("Change log is empty")
			return nil
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.Timestamp.Format(time.RFC3339),
				e.Type,
				shortID(e.RequestID),
				e.Actor,
				e.Role,
			})
		}
		output.Table([]string{"TIME", "TYPE", "REQUEST", "ACTOR", "ROLE"}, rows)
		return nil
	},
}
