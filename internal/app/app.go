package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tejulabs/corpora/internal/config"
	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/core/chunker"
	db "github.com/tejulabs/corpora/internal/core/database"
	"github.com/tejulabs/corpora/internal/core/ingest"
	"github.com/tejulabs/corpora/internal/core/llm"
	objectclient "github.com/tejulabs/corpora/internal/core/object-client"
	"github.com/tejulabs/corpora/internal/core/ocr"
	"github.com/tejulabs/corpora/internal/services"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Pipeline     *ingest.Pipeline
	Server       *Server

	embedder *llm.GeminiEmbedder
	chatLLM  *llm.GeminiChat
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Object client initialized and ready.")

	geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	chatLLM, err := llm.NewGeminiChat(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the chat model, %w", err)
	}

	ck, err := chunker.New()
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the chunker, %w", err)
	}

	// docconv first; fall back to the raw PDF text layer when the external
	// converters are unavailable.
	extractor := ocr.NewFallback(ocr.NewDocconvOCR(false), ocr.NewPDFTextOCR())

	pipeline := ingest.NewPipeline(dbClient, objClient, extractor, ck, geminiEmbedder, ingest.Config{
		Buckets:      cfg.BucketPrefs,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		BatchSize:    cfg.EmbedBatch,
		MaxWorkers:   cfg.EmbedWorkers,
		Retry:        ingest.RetryPolicy{MaxAttempts: cfg.EmbedRetries, InitialInterval: time.Second, BackoffCoefficient: 2, MaximumInterval: 20 * time.Second},
		RatePerSec:   cfg.EmbedRatePerS,
	}, nil)

	productService := services.NewProductService(dbClient, objClient)
	chatService, err := services.NewChatService(dbClient, chatLLM, cfg.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the chat service, %w", err)
	}

	server := NewServer(cfg, pipeline, productService, chatService)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Pipeline:     pipeline,
		Server:       server,
		embedder:     geminiEmbedder,
		chatLLM:      chatLLM,
	}, nil
}

func (a *App) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.chatLLM != nil {
		_ = a.chatLLM.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
