package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tablechat/tablechat/internal/api"
	auditsink "github.com/tablechat/tablechat/internal/audit"
	s3audit "github.com/tablechat/tablechat/internal/audit/s3"
	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/conversation"
	historypostgres "github.com/tablechat/tablechat/internal/conversation/postgres"
	"github.com/tablechat/tablechat/internal/insight"
	"github.com/tablechat/tablechat/internal/llm"
	"github.com/tablechat/tablechat/internal/marketing"
	"github.com/tablechat/tablechat/internal/nlsql"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/warehouse"
	bqwarehouse "github.com/tablechat/tablechat/internal/warehouse/bigquery"
	duckwarehouse "github.com/tablechat/tablechat/internal/warehouse/duckdb"
)

func main() {
	cfg, err := config.LoadFromEnv("tablechat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx := context.Background()

	var schemas warehouse.SchemaProvider
	var executor warehouse.Executor
	switch cfg.Warehouse.Backend {
	case config.WarehouseBigQuery:
		client, err := bqwarehouse.New(ctx, bqwarehouse.Config{
			Table:           cfg.Warehouse.Table,
			CredentialsJSON: cfg.Warehouse.CredentialsJSON,
		})
		if err != nil {
			logger.Error("failed to open bigquery client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = client.Close() }()
		schemas, executor = client, client
	case config.WarehouseDuckDB:
		engine, err := duckwarehouse.Open(cfg.Warehouse.DuckDBPath)
		if err != nil {
			logger.Error("failed to open duckdb database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = engine.Close() }()
		schemas, executor = engine, engine
	}
	schemaCache := warehouse.NewCachedSchemaProvider(schemas)

	var client llm.Client
	if cfg.AI.Enabled {
		openai, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			Timeout: cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize llm client", slog.Any("error", err))
			os.Exit(1)
		}
		client = openai
	}

	generator := nlsql.New(client, nlsql.Config{
		Table:        cfg.Warehouse.Table,
		DateColumn:   cfg.Pipeline.DateColumn,
		LookbackDays: cfg.Pipeline.LookbackDays,
		RowCeiling:   cfg.Pipeline.RowCeiling,
		Temperature:  cfg.AI.SQLTemperature,
	})
	summarizer := insight.New(client, insight.Config{
		Mode:        insight.Mode(cfg.AI.SummaryMode),
		PreviewRows: cfg.AI.PreviewRows,
		MaxFindings: cfg.AI.MaxFindings,
		Temperature: cfg.AI.SummaryTemperature,
	})

	var store conversation.Store = conversation.NewMemoryStore()
	readiness := []api.ReadinessCheck{
		api.CheckWarehouseConfig(cfg),
		api.CheckHistoryConfig(cfg),
	}
	if cfg.History.Backend == config.HistoryPostgres {
		historyDB, err := historypostgres.Open(ctx, historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()

		pgStore := historypostgres.NewStore(historyDB)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare history schema", slog.Any("error", err))
			os.Exit(1)
		}
		store = pgStore
		readiness = append(readiness, pgStore.HealthCheck)
	}

	var sink auditsink.Sink
	if cfg.Audit.Enabled {
		s3sink, err := s3audit.New(ctx, s3audit.Config{
			Endpoint:         cfg.Audit.Endpoint,
			Region:           cfg.Audit.Region,
			Bucket:           cfg.Audit.Bucket,
			AccessKeyID:      cfg.Audit.AccessKeyID,
			SecretAccessKey:  cfg.Audit.SecretAccessKey,
			UseSSL:           cfg.Audit.UseSSL,
			Prefix:           cfg.Audit.Prefix,
			AutoCreateBucket: cfg.Audit.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize audit sink", slog.Any("error", err))
			os.Exit(1)
		}
		sink = s3sink
	}

	pipe := &pipeline.Pipeline{
		Schemas:    schemaCache,
		Executor:   executor,
		Generator:  generator,
		Summarizer: summarizer,
		Logger:     logger,
		Config: pipeline.Config{
			Table:      cfg.Warehouse.Table,
			RowCeiling: cfg.Pipeline.RowCeiling,
			SampleRows: cfg.Pipeline.SampleRows,
		},
	}
	session := pipeline.NewSession(pipe, store, sink, logger)

	deps := api.Dependencies{
		Logger:            logger,
		Session:           session,
		Schemas:           schemaCache,
		SchemaRefresher:   schemaCache,
		Table:             cfg.Warehouse.Table,
		ShowSQL:           cfg.Pipeline.ShowSQL,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
	}
	if cfg.Marketing.Enabled {
		deps.Instagram = marketingConnector(logger, "instagram", func() (*marketing.Client, error) {
			return marketing.NewInstagramClient(marketing.Config{
				BaseURL:    cfg.Marketing.BaseURL,
				APIKey:     cfg.Marketing.APIKey,
				DataSource: cfg.Marketing.InstagramSource,
				User:       cfg.Marketing.User,
				Accounts:   splitAccounts(cfg.Marketing.InstagramAccounts),
				Timeout:    cfg.Marketing.Timeout,
			})
		})
		deps.FacebookPages = marketingConnector(logger, "facebook_pages", func() (*marketing.Client, error) {
			return marketing.NewFacebookPagesClient(marketing.Config{
				BaseURL:    cfg.Marketing.BaseURL,
				APIKey:     cfg.Marketing.APIKey,
				DataSource: cfg.Marketing.FacebookSource,
				User:       cfg.Marketing.User,
				Accounts:   splitAccounts(cfg.Marketing.FacebookAccounts),
				Timeout:    cfg.Marketing.Timeout,
			})
		})
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-runCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// marketingConnector builds a connector client, treating a bad
// connector config as a disabled connector instead of a fatal error.
func marketingConnector(logger *slog.Logger, name string, build func() (*marketing.Client, error)) api.MarketingQuerier {
	client, err := build()
	if err != nil {
		logger.Warn("marketing connector disabled", slog.String("connector", name), slog.Any("error", err))
		return nil
	}
	return client
}

func splitAccounts(raw string) []string {
	var accounts []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			accounts = append(accounts, trimmed)
		}
	}
	return accounts
}
