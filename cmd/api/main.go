package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/voice-journal/backend/internal/config"
	"github.com/zhouzirui/voice-journal/backend/internal/handler"
	"github.com/zhouzirui/voice-journal/backend/internal/service/journal"
	"github.com/zhouzirui/voice-journal/backend/internal/service/prompt"
	"github.com/zhouzirui/voice-journal/backend/internal/service/realtime"
	"github.com/zhouzirui/voice-journal/backend/internal/service/summary"
	"github.com/zhouzirui/voice-journal/backend/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("failed to open journal database: %v", err)
	}
	defer store.Close()
	log.Printf("journal database ready at %s", cfg.Storage.DBPath)

	catalog, err := prompt.LoadCatalog(cfg.Storage.PromptsFile)
	if err != nil {
		log.Fatalf("failed to load prompt overrides: %v", err)
	}

	// Summary generation is optional; without Ark credentials it stays disabled
	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing without summaries - 请检查 Ark 模型相关环境变量")
			chatModel = nil
		} else {
			log.Println("chat model initialized, summaries enabled")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过历史摘要功能")
	}

	summarySvc, err := summary.NewService(ctx, chatModel, store, summary.DefaultConfig())
	if err != nil {
		log.Printf("warning: failed to initialize summary service: %v", err)
		summarySvc, _ = summary.NewService(ctx, nil, store, summary.DefaultConfig())
	}

	journalSvc := journal.NewService(store, catalog, summarySvc, journal.Options{
		IncludeHistory: cfg.Realtime.IncludeHistory,
	})

	if !cfg.Realtime.Enabled() {
		log.Println("OPENAI_API_KEY 未配置，语音会话将返回错误")
	}
	dialer := realtime.NewUpstreamDialer(cfg.Realtime)
	log.Printf("realtime upstream: %s", dialer.Endpoint())
	bridge := realtime.NewBridge(cfg.Realtime, dialer, journalSvc, journalSvc)

	router := handler.NewRouter(journalSvc, bridge)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Voice journal backend listening on %s", srv.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("server stopped")
}

// runServer serves until ctx is cancelled, then drains open requests.
// Voice sessions are hijacked connections; Shutdown does not wait for them.
func runServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
