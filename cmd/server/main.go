package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	neo4jdriver "github.com/neo4j/neo4j-go-driver/v6/neo4j"
	"github.com/qdrant/go-client/qdrant"
	"github.com/robfig/cron/v3"
	openai "github.com/sashabaranov/go-openai"

	episodicrepo "github.com/hanachan/kioku/internal/application/repository/episodic/qdrant"
	learningrepo "github.com/hanachan/kioku/internal/application/repository/learning/postgres"
	semanticrepo "github.com/hanachan/kioku/internal/application/repository/semantic/neo4j"
	sessionrepo "github.com/hanachan/kioku/internal/application/repository/session/postgres"
	"github.com/hanachan/kioku/internal/application/service/agent"
	"github.com/hanachan/kioku/internal/application/service/consolidation"
	"github.com/hanachan/kioku/internal/application/service/profile"
	"github.com/hanachan/kioku/internal/application/service/retrieval"
	sessionsvc "github.com/hanachan/kioku/internal/application/service/session"
	"github.com/hanachan/kioku/internal/config"
	"github.com/hanachan/kioku/internal/handler"
	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/models/embedding"
	"github.com/hanachan/kioku/internal/runtime"
	"github.com/hanachan/kioku/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.Server.LogLevel)

	ctx := context.Background()

	// Postgres: bounded pool, fail fast on an unreachable database.
	pool, err := newPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := migrations.Run(pool); err != nil {
		return err
	}

	// LLM client, shared by chat and embeddings.
	llmConfig := openai.DefaultConfig(cfg.LLM.APIKey)
	if cfg.LLM.BaseURL != "" {
		llmConfig.BaseURL = cfg.LLM.BaseURL
	}
	llmClient := openai.NewClientWithConfig(llmConfig)
	chatModel := chat.NewOpenAIChat(llmClient, cfg.LLM.Model)
	embedder := embedding.NewOpenAIEmbedder(llmClient, cfg.LLM.EmbeddingModel, cfg.LLM.EmbeddingDimension)

	// Qdrant: ensure the episodic collection and its payload index.
	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant client: %w", err)
	}
	defer qdrantClient.Close()
	if err := episodicrepo.Init(ctx, qdrantClient, embedder, cfg.Qdrant.Collection); err != nil {
		return err
	}

	// Neo4j: ensure the fulltext index.
	driver, err := neo4jdriver.NewDriver(cfg.Neo4j.URI,
		neo4jdriver.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
	if err != nil {
		return fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	if err := semanticrepo.Init(ctx, driver); err != nil {
		return err
	}

	// Worker pools.
	workerPool, err := runtime.NewWorkerPool(cfg.Workers.PoolSize)
	if err != nil {
		return err
	}
	defer workerPool.Release()
	background, err := runtime.NewBackgroundTasks(cfg.Workers.BackgroundSize)
	if err != nil {
		return err
	}

	// Repositories.
	episodic := episodicrepo.NewEpisodicRepository(qdrantClient, embedder, cfg.Qdrant.Collection)
	semantic := semanticrepo.NewSemanticRepository(driver, cfg.Memory.NoiseWords, cfg.Memory.GenericWords)
	sessionRepo := sessionrepo.NewSessionRepository(pool)
	learning := learningrepo.NewLearningRepository(pool)
	locker := sessionrepo.NewAdvisoryLocker(pool)

	// Services.
	sessions := sessionsvc.NewSessionService(sessionRepo, chatModel, background)
	retrievalSvc := retrieval.NewService(sessions, episodic, semantic, workerPool, retrieval.Options{
		EpisodicTopK: cfg.Agent.EpisodicTopK,
		ThreadLastN:  cfg.Agent.ThreadLastN,
		MaxKeywords:  cfg.Agent.MaxKeywords,
	})
	bridge := agent.NewBridge(episodic, semantic, learning, cfg.Agent.EpisodicTopK)
	engine := agent.NewEngine(chatModel, bridge, sessions, retrievalSvc, episodic, semantic, learning, background, cfg.Agent)
	consolidationSvc := consolidation.NewService(episodic, sessionRepo, locker, chatModel, cfg.Consolidation)
	profiles := profile.NewService(semantic, chatModel)

	// Consolidation sweep.
	scheduler := cron.New()
	if cfg.Consolidation.SweepEnabled {
		if _, err := scheduler.AddFunc(cfg.Consolidation.SweepSpec, func() {
			consolidationSvc.Sweep(context.Background())
		}); err != nil {
			return fmt.Errorf("failed to schedule consolidation sweep: %w", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.New(engine, sessions, sessionRepo, episodic, semantic, consolidationSvc, profiles).Register(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Infof(ctx, "received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(ctx, "server shutdown failed: %v", err)
	}

	// Let in-flight memory writes land before closing the stores.
	background.Drain()
	return nil
}

func newPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return pool, nil
}
