package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/voice-journal/backend/internal/config"
	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
	"github.com/zhouzirui/voice-journal/backend/internal/service/prompt"
)

func promptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "Print the effective prompts for every session type",
		Long:  `Prints voice instructions and initial messages, including overrides from JOURNAL_PROMPTS_FILE.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			catalog, err := prompt.LoadCatalog(cfg.Storage.PromptsFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, st := range journal.SessionTypes() {
				tmpl := catalog.Template(st)
				fmt.Fprintf(out, "=== %s ===\n", st)
				fmt.Fprintf(out, "initial: %s\n", tmpl.InitialMessage)
				fmt.Fprintf(out, "voice:   %s\n\n", tmpl.VoiceInstructions)
			}
			return nil
		},
	}
}
