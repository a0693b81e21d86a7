package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/VanshDeo/OpenQuest/internal/ai"
	"github.com/VanshDeo/OpenQuest/internal/api"
	"github.com/VanshDeo/OpenQuest/internal/config"
	"github.com/VanshDeo/OpenQuest/internal/jobs"
	"github.com/VanshDeo/OpenQuest/internal/pipeline"
	"github.com/VanshDeo/OpenQuest/internal/prompt"
	"github.com/VanshDeo/OpenQuest/internal/search"
	"github.com/VanshDeo/OpenQuest/internal/store"
)

func buildClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "local":
		return &ai.ClientConfig{Provider: ai.ProviderLocal}, nil
	case "google":
		return &ai.ClientConfig{
			Provider:    ai.ProviderGoogle,
			EmbedAPIKey: cfg.EmbedAPIKey,
			LLMAPIKey:   cfg.LLMAPIKey,
			EmbedModel:  cfg.EmbedModel,
			AnswerModel: cfg.AnswerModel,
		}, nil
	case "openai":
		return &ai.ClientConfig{
			Provider:    ai.ProviderOpenAI,
			EmbedAPIKey: cfg.EmbedAPIKey,
			LLMAPIKey:   cfg.LLMAPIKey,
			EmbedModel:  cfg.EmbedModel,
			AnswerModel: cfg.AnswerModel,
		}, nil
	case "stub":
		return &ai.ClientConfig{Provider: ai.ProviderStub}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func main() {
	fs := pflag.NewFlagSet("openquest-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting openquest api")

	clientCfg, err := buildClientConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid AI configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientCfg)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	defer client.Close()
	logger.Info().Int("embedding_dim", client.Dim()).Str("embed_model", client.EmbeddingModel()).Msg("AI client initialized")

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	queue, err := jobs.NewRedisQueue(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer queue.Close()

	svc := search.NewService(client, st, cfg.Retrieval.CacheSize)
	pl := pipeline.New(svc, client, prompt.NewAssembler(cfg.Retrieval.ContextBudget))
	srv := api.NewServer(queue, st, pl, st, client.AnswerModel())
	srv.Defaults = search.Options{
		TopK:                cfg.Retrieval.TopK,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		MinScore:            cfg.Retrieval.MinScore,
	}

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: srv.Handler(logger)}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
	logger.Info().Msg("api server stopped")
}
