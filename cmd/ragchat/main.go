package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/avolkov/ragchat/internal/api"
	"github.com/avolkov/ragchat/internal/config"
	"github.com/avolkov/ragchat/internal/extract"
	"github.com/avolkov/ragchat/internal/rag"
	"github.com/avolkov/ragchat/internal/rag/vectorstore"
	"github.com/avolkov/ragchat/internal/rag/vectorstore/qdrant"
	"github.com/avolkov/ragchat/internal/repository"
	"github.com/avolkov/ragchat/internal/service"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load .env before viper reads the environment
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories
	chatRepo := repository.NewChatRepository(db)
	docRepo := repository.NewDocumentRepository(db)

	// Initialize the RAG pipeline
	embedder := rag.NewHTTPEmbedder(rag.EmbedderConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	}, logger)

	store := buildVectorStore(cfg, embedder.Dimension(), logger)

	chunker := rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	retriever := rag.NewRetriever(docRepo, embedder, store, rag.RetrieverConfig{
		TopK:           cfg.RAG.TopK,
		ScoreThreshold: cfg.RAG.ScoreThreshold,
	}, logger)
	prompts := rag.NewPromptBuilder(cfg.RAG.HistoryLimit)
	generator := rag.NewGenerator(rag.GeneratorConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	// Initialize services
	ingestService := service.NewIngestService(
		chatRepo,
		docRepo,
		extract.NewPDFExtractor(logger),
		chunker,
		embedder,
		store,
		cfg.Storage.Documents,
		logger,
	)

	chatService := service.NewChatService(
		chatRepo,
		retriever,
		prompts,
		generator,
		ingestService,
		logger,
	)

	// Setup router
	router := api.SetupRouter(chatService, ingestService, api.RouterConfig{
		APIKey:       cfg.Auth.APIKey,
		AllowOrigins: []string{"*"},
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting ragchat server", zap.String("address", cfg.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildVectorStore connects to Qdrant when configured; otherwise the
// pipeline runs against the no-op store and retrieval degrades to the
// durable chunk store.
func buildVectorStore(cfg *config.Config, dimension int, logger *zap.Logger) vectorstore.Store {
	if cfg.Vector.URL == "" {
		logger.Warn("vector backend not configured, running degraded")
		return vectorstore.NewNoop()
	}

	store := qdrant.NewStore(qdrant.Config{
		URL:        cfg.Vector.URL,
		APIKey:     cfg.Vector.APIKey,
		Collection: cfg.Vector.Collection,
		Timeout:    cfg.Vector.Timeout,
	})

	timeout := cfg.Vector.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := store.Init(ctx, dimension); err != nil {
		logger.Warn("vector backend unavailable, running degraded", zap.Error(err))
		return vectorstore.NewNoop()
	}
	return store
}
