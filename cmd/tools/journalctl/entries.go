package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
)

func entriesCmd() *cobra.Command {
	var date string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List journal entries, newest first",
		Long:  `Lists the latest entries, or every entry of one day with --date (YYYY-MM-DD).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.journal.Entries(cmd.Context(), date)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "no entries")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "#%d [%s] %s: %s\n", e.ID, e.Date, e.Type, oneLine(e.Content, 100))
				for _, ex := range journal.ParseExchanges(e.AIPrompts) {
					if text := ex.AssistantText(); text != "" {
						fmt.Fprintf(out, "    AI: %s\n", oneLine(text, 100))
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Only entries of this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")

	return cmd
}

// oneLine flattens whitespace and cuts s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
