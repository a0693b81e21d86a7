package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/VanshDeo/OpenQuest/internal/ai"
	"github.com/VanshDeo/OpenQuest/internal/chunk"
	"github.com/VanshDeo/OpenQuest/internal/config"
	"github.com/VanshDeo/OpenQuest/internal/embed"
	"github.com/VanshDeo/OpenQuest/internal/fetch"
	"github.com/VanshDeo/OpenQuest/internal/jobs"
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
	fs := pflag.NewFlagSet("openquest-indexer", pflag.ExitOnError)
	repoID := fs.String("repo-id", "", "Repository id recorded for the indexed tree (defaults to the directory name)")

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

	root, err := filepath.Abs(cfg.RepoRoot)
	if err != nil {
		log.Fatalf("Invalid repo root %s: %v", cfg.RepoRoot, err)
	}
	id := *repoID
	if id == "" {
		id = filepath.Base(root)
	}
	logger.Info().Str("provider", cfg.Provider).Str("repo_root", root).Str("repo_id", id).Msg("starting openquest indexer")

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

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	start := time.Now()
	fileSet, err := fetch.NewLocalFetcher(id).FetchRepo(ctx, root)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", root, err)
	}

	ing := &jobs.Ingestor{
		Store:  st,
		Client: client,
		ChunkOpts: chunk.Options{
			WindowLines:   cfg.Chunking.WindowLines,
			OverlapLines:  cfg.Chunking.OverlapLines,
			MaxChunkChars: cfg.Chunking.MaxChunkChars,
		},
		MaxFileBytes: cfg.Chunking.MaxFileBytes,
		EngineOpts: []embed.Option{
			embed.WithBatchSize(cfg.Embed.BatchSize),
			embed.WithPause(time.Duration(cfg.Embed.PauseMS) * time.Millisecond),
		},
	}
	res, err := ing.IndexFileSet(ctx, fileSet, nil)
	if err != nil {
		log.Fatalf("Indexing failed: %v", err)
	}

	logger.Info().
		Str("repo_id", res.RepoID).
		Str("commit", res.CommitHash).
		Str("strategy", string(res.Strategy)).
		Int("files", res.FilesAccepted).
		Int("rejected", res.FilesRejected).
		Int("chunks", res.ChunksWritten).
		Dur("dur", time.Since(start)).
		Msg("index written")
}
