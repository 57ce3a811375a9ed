package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func contextCmd() *cobra.Command {
	var sessionType string

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show the stored context appended to voice instructions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseTypeFlag(sessionType)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.journal.HistoryContext(cmd.Context(), st)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if history == "" {
				fmt.Fprintln(out, "(no stored context)")
				return nil
			}
			fmt.Fprintln(out, history)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionType, "type", "", "Session type (reflection/planning/notes/goals)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}
