package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bookforge/internal/app"
	"bookforge/internal/config"
	"bookforge/internal/server"
	"bookforge/internal/servicetoken"
	"bookforge/internal/usertoken"
	"bookforge/internal/util"
	"bookforge/pkg/ai"
	"bookforge/pkg/queue"
	"bookforge/pkg/storage"
	"bookforge/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	tokens, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	issuers := cfg.ServiceTokenIssuers
	if len(issuers) == 0 {
		issuers = []string{"auth-hook"}
	}
	serviceTokens, err := servicetoken.NewVerifier(cfg.ServiceTokenSecret, issuers, 0)
	if err != nil {
		log.Fatalf("failed to init service token verifier: %v", err)
	}

	generator, err := newGenerator(cfg)
	if err != nil {
		log.Fatalf("failed to init generator: %v", err)
	}

	var manuscripts storage.ManuscriptStore
	if cfg.MinioEndpoint != "" {
		manuscripts, err = storage.NewMinioStore(
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init manuscript store: %v", err)
		}
	} else {
		slog.Warn("minio not configured, manuscripts will not be stored")
	}

	jobs, err := queue.NewRedisJobQueue(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	appCore := &app.App{
		Store:       st,
		Tokens:      tokens,
		Generator:   generator,
		Queue:       jobs,
		Manuscripts: manuscripts,
	}
	orchestrator := &app.Orchestrator{
		Store:       st,
		Generator:   generator,
		Manuscripts: manuscripts,
		MaxChapters: cfg.MaxChapters,
		Logger:      logger,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	jobs.Start(workerCtx, cfg.WorkerConcurrency, orchestrator.Handle)

	httpServer, err := server.New(server.Config{
		App:                   appCore,
		ServiceTokens:         serviceTokens,
		RedisAddr:             cfg.RedisAddr,
		RedisPassword:         cfg.RedisPassword,
		AskRateLimitPerMinute: cfg.AskRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newGenerator(cfg config.FileConfig) (ai.TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.GenerationProvider)) {
	case "gemini":
		return ai.NewGeminiClient(cfg.GenerationAPIKey, cfg.GenerationModel)
	default:
		return ai.NewOpenAICompatClient(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel), nil
	}
}
