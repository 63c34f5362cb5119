package main

import (
	"fmt"

	"github.com/aretw0/concierge/pkg/canary"
	"github.com/spf13/cobra"
)

var routeCmd = &cobra.Command{
	Use:   "route <conversation-id>...",
	Short: "Show the canary route for conversations",
	Long:  `Prints the bucket and pipeline each conversation id is pinned to under the configured canary split.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if p, _ := cmd.Flags().GetInt("percent"); p >= 0 {
			cfg.Canary.Enabled = true
			cfg.Canary.Percent = p
		}
		if err := cfg.Canary.Validate(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, id := range args {
			d := canary.Decide(cfg.Canary, id)
			fmt.Fprintf(out, "%s\tbucket=%d\troute=%s\n", id, d.Bucket, d.Route)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.Flags().Int("percent", -1, "Override the canary percentage and enable it")
}
