package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/output"
)

var (
	flagRejectApprover string
	flagRejectLabel    string
)

func init() {
	rejectCmd.Flags().StringVarP(&flagRejectApprover, "approver", "a", "", "approver identity (required)")
	rejectCmd.Flags().StringVarP(&flagRejectLabel, "label", "l", "", "approver email or display label")

	rootCmd.AddCommand(rejectCmd)
}

var rejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Deny a pending request",
	Long: `Record a denying decision on a pending request.

Denials are advisory: they are logged and shown alongside approvals
but never count toward the threshold and never block the request. A
request stays pending until it accumulates enough approvals or is
deleted.

	Examples:
	  quorumgate reject abc123 -a bob
	  quorumgate reject abc123 -a bob -l bob@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requestID := args[0]
		if flagRejectApprover == "" {
			return fmt.Errorf("--approver is required")
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

		req, err := l.GetPending(cmd.Context(), requestID)
		if err != nil {
			return fmt.Errorf("loading request: %w", err)
		}
		env, err := contract.DecodeEnvelope(req.Data)
		if err != nil {
			return err
		}

		coord := newCoordinator(l, cfg)
		recorded, err := coord.RecordDecision(cmd.Context(), env, flagRejectApprover, flagRejectLabel, true)
		if err != nil {
			return fmt.Errorf("submitting denial: %w", err)
		}

		if output.IsJSON() {
			return output.JSON(map[string]any{
				"request_id": requestID,
				"recorded":   recorded,
			})
		}
		if !recorded {
			fmt.Printf("Decision by %s already recorded for %s\n", flagRejectApprover, requestID)
			return nil
		}
		fmt.Printf("Denied request %s\n", requestID)
		return nil
	},
}
