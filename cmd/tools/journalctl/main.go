package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/voice-journal/backend/internal/config"
	"github.com/zhouzirui/voice-journal/backend/internal/service/journal"
	"github.com/zhouzirui/voice-journal/backend/internal/service/prompt"
	"github.com/zhouzirui/voice-journal/backend/internal/service/summary"
	"github.com/zhouzirui/voice-journal/backend/internal/storage/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "journalctl",
		Short:         "Inspect and maintain the voice journal database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(entriesCmd())
	rootCmd.AddCommand(summarizeCmd())
	rootCmd.AddCommand(contextCmd())
	rootCmd.AddCommand(promptsCmd())
	rootCmd.AddCommand(clearCmd())
	return rootCmd
}

// app holds the services a command works with.
type app struct {
	cfg     *config.Config
	store   *sqlite.Store
	catalog *prompt.Catalog
	summary *summary.Service
	journal *journal.Service
}

// openApp loads configuration and opens the database. withModel also
// builds the Ark chat model used for summaries.
func openApp(ctx context.Context, withModel bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	catalog, err := prompt.LoadCatalog(cfg.Storage.PromptsFile)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	var chatModel model.ChatModel
	if withModel && cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("chat model: %w", err)
		}
	}

	summarySvc, err := summary.NewService(ctx, chatModel, store, summary.DefaultConfig())
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		summary: summarySvc,
		journal: journal.NewService(store, catalog, nil, journal.Options{}),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
