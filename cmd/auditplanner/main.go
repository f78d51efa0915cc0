package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/compliai/auditplanner/internal/adapter/ai"
	"github.com/compliai/auditplanner/internal/adapter/cache"
	httpadapter "github.com/compliai/auditplanner/internal/adapter/http"
	"github.com/compliai/auditplanner/internal/adapter/persistence"
	"github.com/compliai/auditplanner/internal/adapter/retrieval"
	"github.com/compliai/auditplanner/internal/config"
	"github.com/compliai/auditplanner/internal/knowledge"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/internal/usecase"
	"github.com/compliai/auditplanner/internal/worker"
	"github.com/compliai/auditplanner/pkg/logger"
)

// Version and build information
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	envErr := godotenv.Load()

	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Audit Planner\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "audit-planner",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if envErr != nil {
		log.Debug(ctx, "No .env file loaded", map[string]interface{}{"error": envErr.Error()})
	}
	log.Info(ctx, "Starting Audit Planner", map[string]interface{}{
		"version":     Version,
		"environment": cfg.Server.Environment,
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "Audit Planner stopped with error", err, nil)
		os.Exit(1)
	}
	log.Info(ctx, "Server stopped successfully", nil)
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	infra, err := initInfrastructure(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	kb, err := knowledge.NewKnowledgeBase(cfg.Knowledge.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load framework catalog: %w", err)
	}

	runner := worker.NewRunner(log.WithFields(map[string]interface{}{"component": "worker"}))
	useCases := initUseCases(cfg, infra, kb, runner, log)

	if cfg.Workflow.ReconcileInterval > 0 {
		go useCases.Reconcile.Run(ctx, cfg.Workflow.ReconcileInterval)
		log.Info(ctx, "Reconciliation sweep enabled", map[string]interface{}{
			"interval": cfg.Workflow.ReconcileInterval.String(),
		})
	}

	handler := httpadapter.NewProjectHandler(useCases.Planner, useCases.Export, log)
	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, handler, infra.HealthChecks(), log)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Error during server shutdown", err, nil)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "Background generation did not finish before shutdown", map[string]interface{}{
			"active": runner.Active(),
			"error":  err.Error(),
		})
	}
	return nil
}

// Infrastructure holds the external connections and the adapters built on them
type Infrastructure struct {
	DB        *sql.DB
	Redis     *redis.Client
	Projects  ports.ProjectRepository
	Cache     ports.ResponseCache
	Locker    ports.Locker
	LLM       ports.LLMGateway
	Retriever ports.DocumentRetriever
}

// Close releases the database and Redis connections
func (i *Infrastructure) Close() {
	if i.Redis != nil {
		i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}

// HealthChecks returns a check per external connection, including the LLM provider when it exposes a check
func (i *Infrastructure) HealthChecks() map[string]httpadapter.HealthCheck {
	checks := map[string]httpadapter.HealthCheck{}
	if i.DB != nil {
		checks["database"] = i.DB.PingContext
	}
	if i.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return i.Redis.Ping(ctx).Err() }
	}
	if checker, ok := i.LLM.(ports.HealthChecker); ok {
		checks["llm"] = checker.IsHealthy
	}
	return checks
}

func initInfrastructure(ctx context.Context, cfg *config.Config, log logger.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{}

	switch cfg.Database.Driver {
	case "memory":
		log.Warn(ctx, "Using in-memory project store; projects are lost on restart", nil)
		infra.Projects = persistence.NewMemoryProjectRepository()
	default:
		db, err := initDatabase(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		infra.DB = db
		infra.Projects = persistence.NewPostgresProjectRepository(db, log.WithFields(map[string]interface{}{"component": "postgres"}))
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		}, log)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Redis = client
		infra.Cache = cache.NewRedisResponseCache(client)
		infra.Locker = cache.NewRedisLocker(client, log)
	} else {
		infra.Cache = cache.NewLocalResponseCache()
		infra.Locker = cache.NewLocalLocker()
	}

	infra.LLM = newLLMGateway(cfg, infra.Cache, log)
	infra.Retriever = retrieval.New(retrieval.Config{
		BaseURL: cfg.Retrieval.BaseURL,
		APIKey:  cfg.Retrieval.APIKey,
		Timeout: cfg.Retrieval.Timeout,
	})
	if cfg.Retrieval.BaseURL == "" {
		log.Info(ctx, "Retrieval service not configured; document analysis uses static tables", nil)
	}

	return infra, nil
}

// initDatabase initializes the database connection
func initDatabase(ctx context.Context, cfg *config.Config, log logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxConnections / 2)
	db.SetConnMaxIdleTime(cfg.Database.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info(ctx, "Database connection established", map[string]interface{}{
		"host": cfg.Database.Host,
		"name": cfg.Database.DBName,
	})
	return db, nil
}

// newLLMGateway selects the provider and wraps it with the response cache when enabled
func newLLMGateway(cfg *config.Config, responseCache ports.ResponseCache, log logger.Logger) ports.LLMGateway {
	aiConfig := cfg.ToAIConfig()

	var gateway ports.LLMGateway
	switch cfg.AI.Provider {
	case "openai":
		gateway = ai.NewOpenAIGateway(aiConfig)
	case "ollama":
		if cfg.AI.Model == "gpt-3.5-turbo" {
			aiConfig.Model = ""
		}
		gateway = ai.NewOllamaGateway(aiConfig)
	default:
		gateway = ai.NewMockGateway(aiConfig)
	}

	if cfg.AI.EnableCache && responseCache != nil {
		ttl := time.Duration(cfg.AI.CacheTTLMin) * time.Minute
		gateway = ai.NewCachedGateway(gateway, responseCache, ttl, log)
	}
	return gateway
}

// UseCases holds the application services exposed over HTTP
type UseCases struct {
	Planner   *usecase.AuditPlannerUseCase
	Export    *usecase.ExportUseCase
	Reconcile *usecase.ReconcileUseCase
}

func initUseCases(cfg *config.Config, infra *Infrastructure, kb *knowledge.KnowledgeBase, runner *worker.Runner, log logger.Logger) UseCases {
	var extractor *usecase.ControlExtractor
	if cfg.Workflow.ExtractionEnabled {
		extractor = usecase.NewControlExtractor(infra.LLM, kb, usecase.ExtractionConfig{
			MinChunkChars:   cfg.Workflow.ExtractionMinChunkChars,
			WindowThreshold: cfg.Workflow.ExtractionWindowThreshold,
			WindowSize:      cfg.Workflow.ExtractionWindowSize,
			WindowOverlap:   cfg.Workflow.ExtractionWindowOverlap,
			MaxConcurrency:  cfg.Workflow.ExtractionMaxConcurrency,
			ChunkTimeout:    cfg.Workflow.DocumentQueryTimeout,
		}, log)
	}

	analyzer := usecase.NewGapAnalyzer(kb, infra.Retriever, extractor, cfg.Workflow.DocumentQueryTimeout, log)
	synthesizer := usecase.NewPolicySynthesizer(infra.LLM, kb, log)

	workflow := usecase.WorkflowConfig{
		AnalysisTimeout:  cfg.Workflow.AnalysisTimeout,
		SynthesisTimeout: cfg.Workflow.SynthesisTimeout,
	}
	staleAfter := usecase.StaleAfter(workflow, cfg.Workflow.DocumentQueryTimeout, cfg.Workflow.ReconcileGrace)

	return UseCases{
		Planner:   usecase.NewAuditPlannerUseCase(infra.Projects, kb, analyzer, synthesizer, runner, workflow, log),
		Export:    usecase.NewExportUseCase(infra.Projects, log),
		Reconcile: usecase.NewReconcileUseCase(infra.Projects, infra.Locker, staleAfter, log),
	}
}
