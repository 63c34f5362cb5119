package main

import (
	"fmt"

	"github.com/aretw0/concierge"
	"github.com/aretw0/concierge/internal/logging"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and tool registry",
	Long:  `Loads the configuration, builds the policy and reports allow-listed tools that have no target.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var extra []concierge.Option
		if sandbox, _ := cmd.Flags().GetBool("sandbox"); sandbox {
			extra = append(extra, concierge.WithSandboxTargets())
		}
		orch, closeStore, err := concierge.FromConfig(cmd.Context(), cfg, logging.NewNop(), extra...)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		defer closeStore()

		if err := orch.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("sandbox", false, "Count in-memory booking tools as registered")
}
