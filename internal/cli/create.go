package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/output"
)

var (
	flagCreateRequestedBy string
	flagCreateStatic      string
	flagCreateDynamic     string
	flagCreateInitialize  bool
)

func init() {
	createCmd.Flags().StringVarP(&flagCreateRequestedBy, "requested-by", "u", "", "identity of the submitter (required)")
	createCmd.Flags().StringVar(&flagCreateStatic, "static-data", "", "immutable human-readable context")
	createCmd.Flags().StringVar(&flagCreateDynamic, "dynamic-data", "", "additional human-readable context")
	createCmd.Flags().BoolVar(&flagCreateInitialize, "initialize", false, "run the backend Initialize step before creating")

	rootCmd.AddCommand(createCmd)
}

var createCmd = &cobra.Command{
	Use:   "create [envelope-file]",
	Short: "Create a pending change request",
	Long: `Create a pending change request from an envelope JSON file
(or stdin when no file is given).

The envelope must already carry a backend-bound id and expiry. Pass
--initialize to run the backend's Initialize step first for a freshly
constructed envelope.

	Examples:
	  quorumgate create request.json -u alice
	  cat request.json | quorumgate create -u alice --initialize`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagCreateRequestedBy == "" {
			return fmt.Errorf("--requested-by is required")
		}

		raw, err := readInput(args)
		if err != nil {
			return err
		}
		env, err := contract.DecodeEnvelope(raw)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if flagCreateInitialize {
			gw, err := buildGateway(cfg)
			if err != nil {
				return err
			}
			if env, err = gw.Initialize(cmd.Context(), env); err != nil {
				return fmt.Errorf("initializing envelope: %w", err)
			}
		}

		l, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		coord := newCoordinator(l, cfg)
		id, err := coord.Create(cmd.Context(), env, flagCreateRequestedBy, flagCreateStatic, flagCreateDynamic)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		if output.IsJSON() {
			return output.JSON(map[string]string{"id": id})
		}
		fmt.Printf("Created request %s\n", id)
		return nil
	},
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("reading envelope file: %w", err)
		}
		return raw, nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return raw, nil
}
