package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/output"
)

var flagPoliciesRole string

func init() {
	policiesCmd.Flags().StringVarP(&flagPoliciesRole, "role", "r", "", "show only the policy for this role")

	rootCmd.AddCommand(policiesCmd)
}

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List committed policies",
	Long: `List committed policies and their public parameters. Signature
material is never printed.`,
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

		rows, err := l.ListAllCommitted(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing policies: %w", err)
		}

		type policyView struct {
			RoleID      string          `json:"role_id"`
			Policy      contract.Policy `json:"policy"`
			CommittedAt time.Time       `json:"committed_at"`
		}
		views := make([]policyView, 0, len(rows))
		for _, row := range rows {
			if flagPoliciesRole != "" && row.RoleID != flagPoliciesRole {
				continue
			}
			policy, err := contract.DecodePolicy(row.Data)
			if err != nil {
				return fmt.Errorf("policy for role %s: %w", row.RoleID, err)
			}
			views = append(views, policyView{
				RoleID:      row.RoleID,
				Policy:      policy.PublicView(),
				CommittedAt: row.CommittedAt,
			})
		}

		if output.IsJSON() {
			return output.JSON(map[string]any{"policies": views})
		}

		if len(views) == 0 {
			fmt.Println("No committed policies")
			return nil
		}
		tableRows := make([][]string, 0, len(views))
		for _, v := range views {
			threshold, _ := v.Policy.Threshold()
			tableRows = append(tableRows, []string{
				v.RoleID,
				fmt.Sprintf("%d", threshold),
				v.Policy.ExecutionType,
				v.Policy.ApprovalType,
				v.Policy.Version,
				v.CommittedAt.Format(time.RFC3339),
			})
		}
		output.Table(
			[]string{"ROLE", "THRESHOLD", "EXECUTION", "APPROVAL", "VERSION", "COMMITTED"},
			tableRows,
		)
		return nil
	},
}
