package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/output"
)

var flagDeleteActor string

func init() {
	deleteCmd.Flags().StringVarP(&flagDeleteActor, "actor", "a", "", "identity performing the deletion (required)")

	rootCmd.AddCommand(deleteCmd)
}

var deleteCmd = &cobra.Command{
	Use:   "delete <request-id>",
	Short: "Delete a pending request",
	Long: `Remove a pending request and its decisions. The deletion is
recorded in the change log.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requestID := args[0]
		if flagDeleteActor == "" {
			return fmt.Errorf("--actor is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		coord := newCoordinator(l, cfg)
		if err := coord.Delete(cmd.Context(), requestID, flagDeleteActor); err != nil {
			return fmt.Errorf("deleting request: %w", err)
		}

		if output.IsJSON() {
			return output.JSON(map[string]any{"request_id": requestID, "deleted": true})
		}
		fmt.Printf("Deleted request %s\n", requestID)
		return nil
	},
}
