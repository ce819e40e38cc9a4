package cli

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/output"
)

var (
	flagCommitActor     string
	flagCommitSignature string
	flagCommitExecute   bool
)

func init() {
	commitCmd.Flags().StringVarP(&flagCommitActor, "actor", "a", "", "identity performing the commit (required)")
	commitCmd.Flags().StringVarP(&flagCommitSignature, "signature", "s", "", "base64 signature from the backend's Execute step")
	commitCmd.Flags().BoolVarP(&flagCommitExecute, "execute", "x", false, "run the backend Execute step to obtain the signature")

	rootCmd.AddCommand(commitCmd)
}

var commitCmd = &cobra.Command{
	Use:   "commit <request-id>",
	Short: "Execute and commit a quorum-approved request",
	Long: `Commit a request whose approvals have met the governing
policy's threshold. Readiness is re-verified at commit time; a request
below threshold is refused.

Pass --execute to have the configured backend produce the signature,
or supply one obtained out of band with --signature. Committing a
policy draft replaces the committed policy for its role.

	Examples:
	  quorumgate commit abc123 -a alice --execute
	  quorumgate commit abc123 -a alice -s "c2lnbmF0dXJl..."`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requestID := args[0]
		if flagCommitActor == "" {
			return fmt.Errorf("--actor is required")
		}
		if flagCommitExecute == (flagCommitSignature != "") {
			return fmt.Errorf("exactly one of --execute or --signature is required")
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

		var signature []byte
		if flagCommitExecute {
			req, err := l.GetPending(cmd.Context(), requestID)
			if err != nil {
				return fmt.Errorf("loading request: %w", err)
			}
			// Reconcile first so the governing policy is embedded for
			// the backend.
			if _, err := coord.ReconcileAndCheckReadiness(cmd.Context(), req); err != nil {
				return fmt.Errorf("checking readiness: %w", err)
			}
			env, err := contract.DecodeEnvelope(req.Data)
			if err != nil {
				return err
			}
			gw, err := buildGateway(cfg)
			if err != nil {
				return err
			}
			if signature, err = gw.Execute(cmd.Context(), env); err != nil {
				return fmt.Errorf("executing request: %w", err)
			}
		} else {
			if signature, err = base64.StdEncoding.DecodeString(flagCommitSignature); err != nil {
				return fmt.Errorf("--signature must be base64: %w", err)
			}
		}

		if err := coord.Commit(cmd.Context(), requestID, signature, flagCommitActor); err != nil {
			return fmt.Errorf("committing request: %w", err)
		}

		if output.IsJSON() {
			return output.JSON(map[string]any{
				"request_id": requestID,
				"committed":  true,
				"signature":  base64.StdEncoding.EncodeToString(signature),
			})
		}
		fmt.Printf("Committed request %s\n", requestID)
		return nil
	},
}
