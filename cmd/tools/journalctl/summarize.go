package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
	"github.com/zhouzirui/voice-journal/backend/internal/service/summary"
)

func summarizeCmd() *cobra.Command {
	var sessionType string
	var force bool

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Refresh the rolling summary of a session type",
		Long: `Regenerates the summary of one session type when it is due (5+ entries and
no summary in the last week). --force regenerates regardless. Requires Ark credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseTypeFlag(sessionType)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.summary.Enabled() {
				return errors.New("summaries disabled: set ARK_MODEL and ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY)")
			}

			out := cmd.OutOrStdout()
			if !force {
				refreshed, err := a.summary.MaybeRefresh(cmd.Context(), st)
				if err != nil {
					return err
				}
				if !refreshed {
					fmt.Fprintf(out, "%s summary is up to date\n", st)
					return nil
				}
				fmt.Fprintf(out, "%s summary refreshed\n", st)
				return nil
			}

			result, err := a.summary.Generate(cmd.Context(), st)
			if errors.Is(err, summary.ErrNotEnoughEntries) {
				fmt.Fprintf(out, "not enough older %s entries to summarize\n", st)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(out, result.SummaryText)
			if len(result.KeyThemes) > 0 {
				fmt.Fprintf(out, "themes: %s\n", strings.Join(result.KeyThemes, ", "))
			}
			if len(result.MentionedGoals) > 0 {
				fmt.Fprintf(out, "goals: %s\n", strings.Join(result.MentionedGoals, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionType, "type", "", "Session type (reflection/planning/notes/goals)")
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate even if the summary is recent")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// parseTypeFlag accepts only known session types; the CLI does not fall back.
func parseTypeFlag(raw string) (journal.SessionType, error) {
	st := journal.SessionType(strings.ToLower(strings.TrimSpace(raw)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown session type %q", raw)
	}
	return st, nil
}
