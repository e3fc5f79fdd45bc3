package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/config"
	"github.com/nclamvn/dich-tai-lieu-sub001/internal/engine"
	"github.com/nclamvn/dich-tai-lieu-sub001/internal/persistence"
	"github.com/nclamvn/dich-tai-lieu-sub001/internal/translate"
	"github.com/nclamvn/dich-tai-lieu-sub001/pkg/log"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	store, err := persistence.NewSQLiteStore(cfg.Data.DBPath(), persistence.WithCacheTTL(cfg.Retention.CacheTTL))
	if err != nil {
		log.Fatal("Failed to open store: %v", err)
	}
	defer store.Close()

	client, err := translate.NewClient(translate.ClientConfig{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to build LLM client: %v", err)
	}

	worker := translate.NewWorker(client, translate.WorkerConfig{
		TargetLang: cfg.Translate.TargetLanguage,
		Model:      cfg.LLM.Model,
	})
	chunker := translate.NewTextChunker(cfg.Translate.MaxChunkChars)
	merger := translate.NewTextMerger()

	eng := engine.New(cfg, store, chunker, worker, merger, cron.New())
	eng.OnProgress(func(jobID string, completed, total int, lastQuality float64) {
		log.Debug("Job %s progress: %d/%d (quality %.2f)", jobID, completed, total, lastQuality)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		log.Fatal("Failed to start engine: %v", err)
	}
	log.Info("Engine started (db %s, %d job slot(s))", cfg.Data.DBPath(), cfg.Queue.MaxConcurrentJobs)

	<-ctx.Done()
	log.Info("Shutting down...")
	eng.Stop()
}
