// Package container wires the application's components and owns their
// lifecycle.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/costlens/backend/internal/adapter"
	awsadapter "github.com/costlens/backend/internal/adapter/aws"
	azureadapter "github.com/costlens/backend/internal/adapter/azure"
	gcpadapter "github.com/costlens/backend/internal/adapter/gcp"
	"github.com/costlens/backend/internal/cache"
	"github.com/costlens/backend/internal/config"
	"github.com/costlens/backend/internal/crypto"
	"github.com/costlens/backend/internal/export"
	"github.com/costlens/backend/internal/handler"
	"github.com/costlens/backend/internal/ingest"
	"github.com/costlens/backend/internal/jobs"
	"github.com/costlens/backend/internal/repository"
)

// Container holds the wired application.
type Container struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Registry  *adapter.Registry
	Queue     *ingest.Queue
	Scheduler *jobs.Scheduler
	Server    *http.Server
}

// New builds the full dependency graph.
func New(cfg *config.Config) (*Container, error) {
	logger := newLogger(cfg.LogLevel)

	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("container: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	secrets := crypto.NewEncryptor(cfg.Security.EncryptionKey)

	accounts := repository.NewPostgresCloudAccountRepository(db)
	syncJobs := repository.NewPostgresSyncJobRepository(db)
	costs := repository.NewPostgresCostLineRepository(db)

	registry := adapter.NewRegistry(
		awsadapter.New(logger),
		azureadapter.New(logger),
		gcpadapter.New(logger),
	)

	runner := ingest.NewRunner(registry, accounts, syncJobs, costs, secrets, logger, nil)
	queue := ingest.NewQueue(runner, logger, ingest.QueueConfig{
		Workers:      cfg.Ingest.Workers,
		Capacity:     cfg.Ingest.QueueSize,
		MaxAttempts:  cfg.Ingest.MaxAttempts,
		RetryBackoff: cfg.Ingest.RetryBackoff,
		RateLimit:    cfg.Ingest.RateLimit,
		RateWindow:   cfg.Ingest.RateWindow,
	})

	scheduler := jobs.NewScheduler(accounts, queue, logger)

	var archiver *export.Archiver
	if cfg.Export.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Export.Region))
		if err != nil {
			return nil, fmt.Errorf("container: failed to load export aws config: %w", err)
		}
		archiver = export.NewArchiver(
			s3.NewFromConfig(awsCfg), costs, cfg.Export.Bucket, cfg.Export.Prefix, logger,
		)
	}

	summaryCache := cache.NewTTL[string, *handler.CostSummary](5*time.Minute, 256)

	router := handler.NewRouter(handler.Handlers{
		Accounts:     handler.NewAccountHandler(accounts, syncJobs, registry, secrets, queue, logger),
		Costs:        handler.NewCostHandler(costs, summaryCache, logger),
		Capabilities: handler.NewCapabilityHandler(accounts, registry, secrets, logger),
		Exports:      handler.NewExportHandler(archiver, logger),
	}, cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Container{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Registry:  registry,
		Queue:     queue,
		Scheduler: scheduler,
		Server:    server,
	}, nil
}

// Start verifies the database, applies the schema, and starts the queue and
// scheduler. The HTTP server is started by the caller.
func (c *Container) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.DB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("container: database unreachable: %w", err)
	}
	if err := repository.EnsureSchema(ctx, c.DB); err != nil {
		return err
	}

	c.Queue.Start(ctx)
	if err := c.Scheduler.Start(c.Config.SyncCron); err != nil {
		return err
	}
	return nil
}

// Stop drains the queue, stops the scheduler, and closes the database.
func (c *Container) Stop(ctx context.Context) {
	c.Scheduler.Stop()
	if err := c.Queue.Drain(ctx); err != nil {
		c.Logger.Warn("queue drain interrupted", "error", err)
	}
	if err := c.DB.Close(); err != nil {
		c.Logger.Warn("failed to close database", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
