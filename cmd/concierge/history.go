package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aretw0/concierge"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <workspace-id> <conversation-id>",
	Short: "Print the transition log of a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		orch, closeStore, err := concierge.FromConfig(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		key := domain.ConversationKey{WorkspaceID: args[0], ConversationID: args[1]}
		records, err := orch.Transitions(cmd.Context(), key)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		return printHistory(cmd, records, asJSON)
	},
}

func printHistory(cmd *cobra.Command, records []domain.TransitionRecord, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tFROM\tTO\tACTION\tACCEPTED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			r.Timestamp.UTC().Format(time.RFC3339), r.Event, r.PreviousState, r.NewState, r.NewAction, r.Accepted)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("json", false, "Print one JSON record per line")
}
