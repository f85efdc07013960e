package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"insights-backend/internal/analysis"
	"insights-backend/internal/botplatform"
	"insights-backend/internal/llm"
	openai "insights-backend/internal/llm/openai"
	"insights-backend/internal/server"
	"insights-backend/internal/services/health"
	"insights-backend/internal/shared/config"
	"insights-backend/internal/shared/storage/db"
	"insights-backend/internal/summary"
	"insights-backend/internal/transcript"
)

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Source          botplatform.Source
	LLM             llm.Client
	Repo            analysis.Repository
	AnalysisService *analysis.Service
	AnalysisHandler *analysis.Handler
	Health          *health.Service
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	source, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}

	llmClient, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}
	llmClient = analysis.NewRetryingClient(llmClient)

	var repo analysis.Repository
	if sqlDB != nil {
		repo = analysis.NewPgRepository(sqlDB)
	} else {
		repo = analysis.NewMemoryRepository()
	}

	svc := analysis.NewService(analysis.ServiceOptions{
		Repo: repo,
		Sampler: &analysis.Sampler{
			Source:     source,
			Normalizer: transcript.NewNormalizer(),
		},
		Classifier:     &analysis.BatchClassifier{LLM: llmClient, Model: cfg.LLMModel},
		Resolver:       &analysis.ConflictResolver{LLM: llmClient, Model: cfg.LLMModel},
		Summarizer:     &summary.Generator{LLM: llmClient},
		BatchSize:      cfg.AnalysisBatchSize,
		MaxConcurrency: cfg.AnalysisMaxConcurrency,
	})

	app := &App{
		Config:          cfg,
		DB:              sqlDB,
		Source:          source,
		LLM:             llmClient,
		Repo:            repo,
		AnalysisService: svc,
		AnalysisHandler: analysis.NewHandler(svc),
		Health:          health.NewService(sqlDB),
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		AnalysisHandler: app.AnalysisHandler,
		Health:          app.Health,
	})
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: migrations failed; using in-memory repositories: %v", err)
			sqlDB.Close()
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildSource(cfg config.Config) (botplatform.Source, error) {
	if strings.TrimSpace(cfg.BotPlatformBaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: BOT_PLATFORM_BASE_URL empty; using in-memory session source")
			return botplatform.NewMemorySource(), nil
		}
		return nil, fmt.Errorf("BOT_PLATFORM_BASE_URL is required")
	}
	return botplatform.NewHTTPSource(cfg.BotPlatformBaseURL, cfg.BotPlatformAPIKey)
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	if cfg.LLMProvider == "openai" {
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel)
	}
	return llm.PlaceholderClient{}, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
