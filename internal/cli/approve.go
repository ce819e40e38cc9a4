package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/output"
)

var (
	flagApproveApprover string
	flagApproveLabel    string
)

func init() {
	approveCmd.Flags().StringVarP(&flagApproveApprover, "approver", "a", "", "approver identity (required)")
	approveCmd.Flags().StringVarP(&flagApproveLabel, "label", "l", "", "approver email or display label")

	rootCmd.AddCommand(approveCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending request",
	Long: `Record an approving decision on a pending request.

Each approver may decide a request at most once; a repeat approval is
ignored and reported as not recorded. Once the number of distinct
approvals reaches the governing policy's threshold the request becomes
commit-ready.

	Examples:
	  quorumgate approve abc123 -a alice
	  quorumgate approve abc123 -a alice -l alice@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requestID := args[0]
		if flagApproveApprover == "" {
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
		recorded, err := coord.RecordDecision(cmd.Context(), env, flagApproveApprover, flagApproveLabel, false)
		if err != nil {
			return fmt.Errorf("submitting approval: %w", err)
		}
		readiness, err := coord.ReconcileAndCheckReadiness(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("checking readiness: %w", err)
		}

		if output.IsJSON() {
			return output.JSON(map[string]any{
				"request_id":   requestID,
				"recorded":     recorded,
				"approvals":    readiness.Approvals,
				"threshold":    readiness.Threshold,
				"commit_ready": readiness.Ready,
			})
		}

		if !recorded {
			fmt.Printf("Approval by %s already recorded for %s\n", flagApproveApprover, requestID)
		} else {
			fmt.Printf("Approved request %s\n", requestID)
		}
		fmt.Printf("Approvals: %d of %d\n", readiness.Approvals, readiness.Threshold)
		if readiness.Ready {
			fmt.Println("Request is commit-ready!")
		}
		return nil
	},
}
