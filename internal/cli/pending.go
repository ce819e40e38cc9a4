package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/output"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending requests",
	Long: `List all pending requests with their approvers, deniers, and
commit readiness.

Listing reconciles readiness: a request whose approvals have reached
the governing policy's threshold gets its policy material embedded the
first time it is listed.`,
	Args: cobra.NoArgs,
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

		coord := newCoordinator(l, cfg)
		views, err := coord.ListPending(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing pending requests: %w", err)
		}

		if output.IsJSON() {
			return output.JSON(map[string]any{"requests": views})
		}

		if len(views) == 0 {
			fmt.Println("No pending requests")
			return nil
		}
		rows := make([][]string, 0, len(views))
		for _, v := range views {
			ready := ""
			if v.CommitReady {
				ready = "ready"
			}
			if v.Expired {
				ready = "expired"
			}
			rows = append(rows, []string{
				shortID(v.ID),
				v.Role,
				v.ContractID,
				v.RequestedBy,
				strings.Join(v.ApprovedBy, ","),
				strings.Join(v.DeniedBy, ","),
				ready,
				v.CreatedAt.Format(time.RFC3339),
			})
		}
		output.Table(
			[]string{"ID", "ROLE", "CONTRACT", "REQUESTED BY", "APPROVED BY", "DENIED BY", "STATUS", "CREATED"},
			rows,
		)
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
