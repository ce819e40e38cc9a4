package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/output"
)

var (
	flagCeremonyApprover string
	flagCeremonyLabel    string
)

func init() {
	ceremonyCmd.Flags().StringVarP(&flagCeremonyApprover, "approver", "a", "", "approver identity for recorded decisions (required)")
	ceremonyCmd.Flags().StringVarP(&flagCeremonyLabel, "label", "l", "", "approver email or display label")

	rootCmd.AddCommand(ceremonyCmd)
}

var ceremonyCmd = &cobra.Command{
	Use:   "ceremony",
	Short: "Run the operator approval ceremony",
	Long: `Hand every pending request to the backend's operator approval
ceremony and record the returned verdicts as decisions.

Requests the ceremony leaves pending cause no state change. A
transport failure records nothing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagCeremonyApprover == "" {
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

		gw, err := buildGateway(cfg)
		if err != nil {
			return err
		}
		coord := newCoordinator(l, cfg)
		recorded, err := coord.RunApprovalCeremony(cmd.Context(), gw, flagCeremonyApprover, flagCeremonyLabel)
		if err != nil {
			return fmt.Errorf("running ceremony: %w", err)
		}

		if output.IsJSON() {
			return output.JSON(map[string]any{"recorded": recorded})
		}
		fmt.Printf("Recorded %d decision(s)\n", recorded)
		return nil
	},
}
